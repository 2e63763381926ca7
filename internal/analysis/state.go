package analysis

// State is a step of one analysis run.
type State int

const (
	StateIdle State = iota
	StateDetectBarcode
	StateHasBarcode
	StateNoBarcode
	StateBuildingPrompt
	StateAwaitingModel
	StateParsingResponse
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateDetectBarcode:   "detect_barcode",
	StateHasBarcode:      "has_barcode",
	StateNoBarcode:       "no_barcode",
	StateBuildingPrompt:  "building_prompt",
	StateAwaitingModel:   "awaiting_model",
	StateParsingResponse: "parsing_response",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition follows.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// TransitionFunc observes state changes. It runs synchronously on the
// analysis goroutine and must not block.
type TransitionFunc func(key string, from, to State)
