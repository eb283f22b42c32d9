package violation

// transitions lists the allowed next states for each state.
var transitions = map[State][]State{
	StateDetected:            {StateInvestigation},
	StateInvestigation:       {StateFirstOffense, StateRepeatOffense},
	StateFirstOffense:        {StateDisciplinaryAction},
	StateRepeatOffense:       {StateDisciplinaryAction},
	StateDisciplinaryAction:  {StateTrainingRequired, StateEmployeeAcknowledge, StateCaseClosed},
	StateTrainingRequired:    {StateTrainingComplete},
	StateTrainingComplete:    {StateEmployeeAcknowledge},
	StateEmployeeAcknowledge: {StateAppealWindow},
	StateAppealWindow:        {StateAppealReview, StateCaseClosed},
	StateAppealReview:        {StateAppealGranted, StateAppealDenied},
	StateAppealGranted:       {StateCaseReopened},
	StateAppealDenied:        {StateCaseClosed},
	StateCaseReopened:        {StateInvestigation},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s in one step.
func NextStates(s State) []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}
