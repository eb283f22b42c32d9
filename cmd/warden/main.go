// Warden is a policy automation engine for fleet operations.
//
// It evaluates policy templates against vehicles, drivers and work orders
// on a schedule or on events, executes the resulting actions through the
// fleet collaborators, records every execution, runs the violation
// lifecycle and audits policy compliance.
//
// Usage:
//
//	# Start the engine with the default configuration file (warden.yaml)
//	warden run
//
//	# Start with a custom configuration file
//	warden run --config /etc/warden/warden.yaml
//
//	# Validate policy files
//	warden policy validate ./policies
//
//	# Query executions of one policy as JSON
//	warden executions query --policy-code HOS-11 -o json
//
//	# Show version information
//	warden version
package main

func main() {
	Execute()
}
