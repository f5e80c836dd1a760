package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed wraps every decode failure.
var ErrMalformed = errors.New("malformed message")

// Event is the closed set of inbound messages a bot reacts to.
type Event interface {
	MsgType() string
}

// Tick is one streamed quote. Raw keeps the quote exactly as the broker
// printed it so the last digit is not altered by float formatting.
type Tick struct {
	Symbol string
	Quote  float64
	Raw    string
	Epoch  int64
}

func (Tick) MsgType() string { return "tick" }

// Digit returns the last decimal digit of the quote.
func (t Tick) Digit() int {
	s := t.Raw
	if s == "" {
		s = strconv.FormatFloat(t.Quote, 'f', -1, 64)
	}
	for i := len(s) - 1; i >= 0; i-- {
		if c := s[i]; c >= '0' && c <= '9' {
			return int(c - '0')
		}
	}
	return 0
}

type ProposalOffer struct {
	ID       string
	AskPrice float64
	Payout   float64
}

func (ProposalOffer) MsgType() string { return "proposal" }

type BuyConfirmation struct {
	ContractID int64
	BuyPrice   float64
}

func (BuyConfirmation) MsgType() string { return "buy" }

// ContractUpdate is a proposal_open_contract frame; IsSold marks settlement.
type ContractUpdate struct {
	ContractID int64
	IsSold     bool
	Profit     float64
	Status     string
}

func (ContractUpdate) MsgType() string { return "proposal_open_contract" }

type Ping struct{}

func (Ping) MsgType() string { return "ping" }

// ErrorEvent carries the broker's error object. Request is the msg_type of
// the request that failed.
type ErrorEvent struct {
	Code    string
	Message string
	Request string
}

func (ErrorEvent) MsgType() string { return "error" }

func (e ErrorEvent) Error() string {
	if e.Request != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Request, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Authorized struct {
	LoginID  string
	Currency string
}

func (Authorized) MsgType() string { return "authorize" }

// Unknown is any well formed frame of a kind no bot handles.
type Unknown struct {
	Type string
}

func (u Unknown) MsgType() string { return u.Type }

// number accepts a JSON number or a numeric string and keeps the literal.
type number struct {
	val float64
	raw string
}

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("number %q: %w", s, err)
	}
	n.val, n.raw = v, s
	return nil
}

// flag accepts true/false or 0/1.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("flag %s", b)
	}
	return nil
}

type envelope struct {
	MsgType string `json:"msg_type"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Tick *struct {
		Symbol string `json:"symbol"`
		Quote  number `json:"quote"`
		Epoch  int64  `json:"epoch"`
	} `json:"tick"`
	Proposal *struct {
		ID       string `json:"id"`
		AskPrice number `json:"ask_price"`
		Payout   number `json:"payout"`
	} `json:"proposal"`
	Buy *struct {
		ContractID int64  `json:"contract_id"`
		BuyPrice   number `json:"buy_price"`
	} `json:"buy"`
	OpenContract *struct {
		ContractID int64  `json:"contract_id"`
		IsSold     flag   `json:"is_sold"`
		Profit     number `json:"profit"`
		Status     string `json:"status"`
	} `json:"proposal_open_contract"`
	Authorize *struct {
		LoginID  string `json:"loginid"`
		Currency string `json:"currency"`
	} `json:"authorize"`
}

// Decode classifies one inbound frame. An error object wins over the
// payload; a known msg_type without its payload is malformed.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Error != nil {
		return ErrorEvent{Code: env.Error.Code, Message: env.Error.Message, Request: env.MsgType}, nil
	}
	switch env.MsgType {
	case "tick":
		if env.Tick == nil || env.Tick.Quote.raw == "" {
			return nil, fmt.Errorf("%w: tick without quote", ErrMalformed)
		}
		return Tick{Symbol: env.Tick.Symbol, Quote: env.Tick.Quote.val, Raw: env.Tick.Quote.raw, Epoch: env.Tick.Epoch}, nil
	case "proposal":
		if env.Proposal == nil || env.Proposal.ID == "" {
			return nil, fmt.Errorf("%w: proposal without id", ErrMalformed)
		}
		return ProposalOffer{ID: env.Proposal.ID, AskPrice: env.Proposal.AskPrice.val, Payout: env.Proposal.Payout.val}, nil
	case "buy":
		if env.Buy == nil {
			return nil, fmt.Errorf("%w: buy without payload", ErrMalformed)
		}
		return BuyConfirmation{ContractID: env.Buy.ContractID, BuyPrice: env.Buy.BuyPrice.val}, nil
	case "proposal_open_contract":
		if env.OpenContract == nil {
			return nil, fmt.Errorf("%w: proposal_open_contract without payload", ErrMalformed)
		}
		oc := env.OpenContract
		return ContractUpdate{ContractID: oc.ContractID, IsSold: bool(oc.IsSold), Profit: oc.Profit.val, Status: oc.Status}, nil
	case "ping":
		return Ping{}, nil
	case "authorize":
		if env.Authorize == nil {
			return nil, fmt.Errorf("%w: authorize without payload", ErrMalformed)
		}
		return Authorized{LoginID: env.Authorize.LoginID, Currency: env.Authorize.Currency}, nil
	case "":
		return nil, fmt.Errorf("%w: missing msg_type", ErrMalformed)
	default:
		return Unknown{Type: env.MsgType}, nil
	}
}
