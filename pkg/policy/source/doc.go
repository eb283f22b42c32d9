// Package source loads policy templates from YAML files and keeps the
// registry in step with them.
//
// A policy file holds one or more templates separated by "---":
//
//	code: PM-5000
//	name: Preventive maintenance at 5000 km
//	category: maintenance
//	scope:
//	  entity_type: vehicle
//	conditions:
//	  all_of:
//	    - field: odometer
//	      operator: greater_or_equal
//	      value: 5000
//	actions:
//	  - type: create_work_order
//	    required: true
//	    parameters:
//	      title: "PM service for {{.vehicle_id}}"
//	mode: autonomous
//	schedule:
//	  interval: 1h
//	activate: true
//
// Sync creates a new draft version only when a document's structural
// content differs from the latest stored version of its code, and activates
// it when the document sets activate. A Watcher re-runs Sync whenever files
// under the policy directory change.
package source
