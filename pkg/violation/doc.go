// Package violation tracks detected policy violations through progressive
// discipline.
//
// States and transitions:
//
//	Detected -> Investigation -> FirstOffense | RepeatOffense
//	  -> DisciplinaryAction
//	       -> CaseClosed                          (termination)
//	       -> TrainingRequired -> TrainingComplete -> EmployeeAcknowledge
//	       -> EmployeeAcknowledge
//	  EmployeeAcknowledge -> AppealWindow
//	  AppealWindow -> CaseClosed                  (window elapsed)
//	  AppealWindow -> AppealReview
//	       -> AppealGranted -> CaseReopened -> Investigation
//	       -> AppealDenied -> CaseClosed
//
// The offense count is fixed when a violation is detected, from the number
// of closed violations for the same policy code and subject, so the
// disciplinary level of a case never changes because of unrelated
// concurrent detections. Every transition is appended to the violation's
// history with its actor, time and reason.
//
// The Manager is the only writer of violation records.
package violation
