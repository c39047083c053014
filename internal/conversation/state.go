package conversation

// Kind identifies a conversation state without its payload.
type Kind int

const (
	KindSelectingCategory Kind = iota + 1
	KindSelectingSharingType
	KindEnteringShareAmount
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindSelectingCategory:
		return "selecting_category"
	case KindSelectingSharingType:
		return "selecting_sharing_type"
	case KindEnteringShareAmount:
		return "entering_share_amount"
	case KindCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// State is one step of a review conversation. Each implementation carries
// only the data that exists in that step.
type State interface {
	Kind() Kind
}

// SelectingCategory waits for a category choice. It is the initial state.
type SelectingCategory struct{}

// SelectingSharingType waits for the solo/shared choice.
type SelectingSharingType struct {
	Category string
}

// EnteringShareAmount waits for a free-text reply to PromptMessageID.
type EnteringShareAmount struct {
	PromptMessageID int
}

// Completed is terminal; the entry is removed right after.
type Completed struct{}

func (SelectingCategory) Kind() Kind    { return KindSelectingCategory }
func (SelectingSharingType) Kind() Kind { return KindSelectingSharingType }
func (EnteringShareAmount) Kind() Kind  { return KindEnteringShareAmount }
func (Completed) Kind() Kind            { return KindCompleted }
