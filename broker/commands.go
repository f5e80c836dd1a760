package broker

// Command is an outbound request serialised as one JSON frame.
type Command interface {
	Kind() string
}

// Subscription kinds accepted by forget_all.
const (
	StreamTicks         = "ticks"
	StreamProposal      = "proposal"
	StreamOpenContracts = "proposal_open_contract"
)

type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

func (TicksRequest) Kind() string { return "ticks" }

// SubscribeTicks streams quotes for symbol.
func SubscribeTicks(symbol string) TicksRequest {
	return TicksRequest{Ticks: symbol, Subscribe: 1}
}

type OpenContractsRequest struct {
	ProposalOpenContract int `json:"proposal_open_contract"`
	Subscribe            int `json:"subscribe"`
}

func (OpenContractsRequest) Kind() string { return "proposal_open_contract" }

// SubscribeOpenContracts streams updates for every contract of the account.
func SubscribeOpenContracts() OpenContractsRequest {
	return OpenContractsRequest{ProposalOpenContract: 1, Subscribe: 1}
}

// ProposalRequest asks for a priced offer.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier,omitempty"`
}

func (ProposalRequest) Kind() string { return "proposal" }

type BuyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
}

func (BuyRequest) Kind() string { return "buy" }

type ForgetAllRequest struct {
	ForgetAll []string `json:"forget_all"`
}

func (ForgetAllRequest) Kind() string { return "forget_all" }

// ForgetAll cancels every stream a bot opens.
func ForgetAll() ForgetAllRequest {
	return ForgetAllRequest{ForgetAll: []string{StreamTicks, StreamProposal, StreamOpenContracts}}
}

type PongRequest struct {
	Pong int `json:"pong"`
}

func (PongRequest) Kind() string { return "pong" }

type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
}

func (AuthorizeRequest) Kind() string { return "authorize" }
