package action

import (
	"context"
	"fmt"

	"fleetguard/warden/pkg/fleet"
)

// Violation severities accepted by record_violation.
var severities = map[string]bool{
	"minor":    true,
	"moderate": true,
	"serious":  true,
	"critical": true,
}

type notifyHandler struct {
	notifier fleet.Notifier
}

func (h *notifyHandler) Idempotent() bool { return true }

func (h *notifyHandler) ValidateParameters(params map[string]interface{}) error {
	for _, name := range []string{"template", "target"} {
		if _, ok := stringParam(params, name); !ok {
			return invalidParam(TypeNotify, name, "is required")
		}
	}
	return nil
}

func (h *notifyHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	if h.notifier == nil {
		return nil, fmt.Errorf("notify: %w", ErrNotConfigured)
	}
	if err := h.ValidateParameters(req.Action.Parameters); err != nil {
		return nil, err
	}

	template, _ := stringParam(req.Action.Parameters, "template")
	target, _ := stringParam(req.Action.Parameters, "target")

	id, err := h.notifier.Send(ctx, fleet.Notification{
		TenantID:       req.Context.TenantID,
		Template:       template,
		Target:         target,
		Payload:        notificationPayload(req),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{OutputNotificationID: id}, nil
}

type acknowledgmentHandler struct {
	notifier fleet.Notifier
}

func (h *acknowledgmentHandler) Idempotent() bool { return true }

func (h *acknowledgmentHandler) ValidateParameters(params map[string]interface{}) error {
	if _, ok := stringParam(params, "target"); !ok {
		return invalidParam(TypeRequireAcknowledgment, "target", "is required")
	}
	return nil
}

func (h *acknowledgmentHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	if h.notifier == nil {
		return nil, fmt.Errorf("require_acknowledgment: %w", ErrNotConfigured)
	}
	if err := h.ValidateParameters(req.Action.Parameters); err != nil {
		return nil, err
	}

	target, _ := stringParam(req.Action.Parameters, "target")
	template, ok := stringParam(req.Action.Parameters, "template")
	if !ok {
		template = "acknowledgment_required"
	}

	payload := notificationPayload(req)
	payload["acknowledgment_required"] = true

	id, err := h.notifier.Send(ctx, fleet.Notification{
		TenantID:       req.Context.TenantID,
		Template:       template,
		Target:         target,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		OutputNotificationID:     id,
		"acknowledgment_target":  target,
		"acknowledgment_pending": true,
	}, nil
}

type workOrderHandler struct {
	workOrders fleet.WorkOrderService
}

func (h *workOrderHandler) Idempotent() bool { return true }

func (h *workOrderHandler) ValidateParameters(params map[string]interface{}) error {
	if _, ok := stringParam(params, "title"); !ok {
		return invalidParam(TypeCreateWorkOrder, "title", "is required")
	}
	return nil
}

func (h *workOrderHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	if h.workOrders == nil {
		return nil, fmt.Errorf("create_work_order: %w", ErrNotConfigured)
	}
	if err := h.ValidateParameters(req.Action.Parameters); err != nil {
		return nil, err
	}

	params := req.Action.Parameters
	title, _ := stringParam(params, "title")
	description, _ := stringParam(params, "description")
	priority, ok := stringParam(params, "priority")
	if !ok {
		priority = "normal"
	}
	vehicleID, ok := stringParam(params, "vehicle_id")
	if !ok {
		vehicleID = req.Context.VehicleID
	}

	extra := make(map[string]interface{})
	for k, v := range params {
		switch k {
		case "title", "description", "priority", "vehicle_id":
		default:
			extra[k] = v
		}
	}

	id, err := h.workOrders.Create(ctx, fleet.WorkOrderRequest{
		TenantID:       req.Context.TenantID,
		VehicleID:      vehicleID,
		Title:          title,
		Description:    description,
		Priority:       priority,
		Params:         extra,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{OutputWorkOrderID: id}, nil
}

type statusHandler struct {
	status fleet.StatusUpdater
}

func (h *statusHandler) Idempotent() bool { return true }

func (h *statusHandler) ValidateParameters(params map[string]interface{}) error {
	if _, ok := stringParam(params, "status"); !ok {
		return invalidParam(TypeUpdateEntityStatus, "status", "is required")
	}
	if et, ok := stringParam(params, "entity_type"); ok && !fleet.EntityType(et).Valid() {
		return invalidParam(TypeUpdateEntityStatus, "entity_type", fmt.Sprintf("%q is not a known entity type", et))
	}
	return nil
}

func (h *statusHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	if h.status == nil {
		return nil, fmt.Errorf("update_entity_status: %w", ErrNotConfigured)
	}
	if err := h.ValidateParameters(req.Action.Parameters); err != nil {
		return nil, err
	}

	params := req.Action.Parameters
	status, _ := stringParam(params, "status")
	reason, _ := stringParam(params, "reason")

	entityType := req.Context.Entity.Type
	if et, ok := stringParam(params, "entity_type"); ok {
		entityType = fleet.EntityType(et)
	}
	entityID, ok := stringParam(params, "entity_id")
	if !ok {
		entityID = req.Context.Entity.ID
	}
	if entityID == "" {
		return nil, invalidParam(TypeUpdateEntityStatus, "entity_id", "cannot be resolved")
	}

	err := h.status.UpdateStatus(ctx, fleet.StatusUpdate{
		TenantID:       req.Context.TenantID,
		EntityType:     entityType,
		EntityID:       entityID,
		Status:         status,
		Reason:         reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"entity_type": string(entityType),
		"entity_id":   entityID,
		OutputStatus:  status,
	}, nil
}

// ViolationSignal is emitted by record_violation and consumed by the
// violation lifecycle manager.
type ViolationSignal struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// ViolationSignalFrom extracts a signal from an action output.
func ViolationSignalFrom(output map[string]interface{}) (ViolationSignal, bool) {
	raw, ok := output[OutputViolation]
	if !ok {
		return ViolationSignal{}, false
	}
	switch v := raw.(type) {
	case ViolationSignal:
		return v, true
	case map[string]interface{}:
		sig := ViolationSignal{
			SubjectType: stringAttr(v, "subject_type"),
			SubjectID:   stringAttr(v, "subject_id"),
			Severity:    stringAttr(v, "severity"),
			Description: stringAttr(v, "description"),
		}
		return sig, sig.SubjectID != ""
	}
	return ViolationSignal{}, false
}

type violationHandler struct{}

func (h *violationHandler) Idempotent() bool { return true }

func (h *violationHandler) ValidateParameters(params map[string]interface{}) error {
	sev, ok := stringParam(params, "severity")
	if !ok {
		return invalidParam(TypeRecordViolation, "severity", "is required")
	}
	if !severities[sev] && !isTemplate(sev) {
		return invalidParam(TypeRecordViolation, "severity", fmt.Sprintf("%q is not a known severity", sev))
	}
	return nil
}

func (h *violationHandler) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	params := req.Action.Parameters
	severity, _ := stringParam(params, "severity")
	if !severities[severity] {
		return nil, invalidParam(TypeRecordViolation, "severity", fmt.Sprintf("%q is not a known severity", severity))
	}

	subjectType, ok := stringParam(params, "subject_type")
	if !ok {
		subjectType = string(fleet.EntityDriver)
		if req.Context.DriverID == "" {
			subjectType = string(req.Context.Entity.Type)
		}
	}
	subjectID, ok := stringParam(params, "subject_id")
	if !ok {
		if subjectType == string(fleet.EntityDriver) && req.Context.DriverID != "" {
			subjectID = req.Context.DriverID
		} else {
			subjectID = req.Context.Entity.ID
		}
	}
	if subjectID == "" {
		return nil, invalidParam(TypeRecordViolation, "subject_id", "cannot be resolved")
	}
	description, _ := stringParam(params, "description")

	return map[string]interface{}{
		OutputViolation: map[string]interface{}{
			"subject_type": subjectType,
			"subject_id":   subjectID,
			"severity":     severity,
			"description":  description,
		},
	}, nil
}

func notificationPayload(req Request) map[string]interface{} {
	payload := make(map[string]interface{})
	if p, ok := req.Action.Parameters["payload"].(map[string]interface{}); ok {
		for k, v := range p {
			payload[k] = v
		}
	}
	if msg, ok := stringParam(req.Action.Parameters, "message"); ok {
		payload["message"] = msg
	}
	c := req.Context
	payload["policy_code"] = c.PolicyCode
	payload["execution_id"] = c.ExecutionID
	payload["entity_type"] = string(c.Entity.Type)
	payload["entity_id"] = c.Entity.ID
	if c.WorkOrderID != "" {
		payload["work_order_id"] = c.WorkOrderID
	}
	return payload
}

func stringParam(params map[string]interface{}, name string) (string, bool) {
	s, ok := params[name].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
