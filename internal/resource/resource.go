// Package resource checks and links the physical resources (rooms,
// equipment) an appointment type needs.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
)

var (
	ErrResourceNotFound      = apperror.New(apperror.KindNotFound, "resource_not_found", "resource not found")
	ErrInsufficientResources = apperror.New(apperror.KindConflict, "insufficient_resources", "required resources are not available")
)

type ResourceType struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	Name     string
}

type Resource struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	ResourceTypeID uuid.UUID
	Name           string
	DeletedAt      *time.Time
}

// Requirement is the quantity of one resource type an appointment type needs.
// Quantity 0 means not required.
type Requirement struct {
	AppointmentTypeID uuid.UUID
	ResourceTypeID    uuid.UUID
	ResourceTypeName  string
	Quantity          int
}

// Allocation links a resource to a confirmed appointment for its time range.
type Allocation struct {
	AppointmentID  uuid.UUID
	ResourceID     uuid.UUID
	ResourceTypeID uuid.UUID
	Start          time.Time
	End            time.Time
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

type Store interface {
	ListRequirements(ctx context.Context, appointmentTypeID uuid.UUID) ([]Requirement, error)
	// ListResources returns the non-deleted resources of the given types.
	ListResources(ctx context.Context, clinicID uuid.UUID, resourceTypeIDs []uuid.UUID) ([]Resource, error)
	// GetResources returns the subset of ids that are non-deleted and owned by clinicID.
	GetResources(ctx context.Context, clinicID uuid.UUID, ids []uuid.UUID) ([]Resource, error)
	// ListAllocations returns allocations of confirmed appointments whose
	// time range overlaps rng.
	ListAllocations(ctx context.Context, clinicID uuid.UUID, resourceTypeIDs []uuid.UUID, rng TimeRange, excludeAppointmentID *uuid.UUID) ([]Allocation, error)
	// ListAppointmentResources returns the resources currently linked to the appointment.
	ListAppointmentResources(ctx context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error)
	// ReplaceAllocations deletes the appointment's allocations and inserts ids.
	ReplaceAllocations(ctx context.Context, appointmentID uuid.UUID, resourceIDs []uuid.UUID) error
}

type InsufficientRequirement struct {
	ResourceTypeID   uuid.UUID `json:"resource_type_id"`
	ResourceTypeName string    `json:"resource_type_name"`
	Required         int       `json:"required_quantity"`
	Available        int       `json:"available_quantity"`
	Selected         int       `json:"selected_quantity"`
}

type ResourceConflict struct {
	ResourceID               uuid.UUID `json:"resource_id"`
	ResourceName             string    `json:"resource_name"`
	ConflictingAppointmentID uuid.UUID `json:"conflicting_appointment_id"`
}

type AvailabilityResult struct {
	IsAvailable              bool                      `json:"is_available"`
	InsufficientRequirements []InsufficientRequirement `json:"insufficient_requirements"`
	Conflicts                []ResourceConflict        `json:"conflicts"`
}

// Findings renders the result as ranked conflict findings.
func (r AvailabilityResult) Findings() []conflict.Finding {
	var out []conflict.Finding
	for _, ins := range r.InsufficientRequirements {
		out = append(out, conflict.Finding{
			Kind:   conflict.KindResource,
			Detail: fmt.Sprintf("%s: need %d, %d available", ins.ResourceTypeName, ins.Required, ins.Available),
		})
	}
	for _, c := range r.Conflicts {
		id := c.ConflictingAppointmentID
		out = append(out, conflict.Finding{
			Kind:          conflict.KindResource,
			Detail:        fmt.Sprintf("%s is already allocated", c.ResourceName),
			AppointmentID: &id,
		})
	}
	return out
}

type CheckRequest struct {
	AppointmentTypeID    uuid.UUID
	ClinicID             uuid.UUID
	Range                TimeRange
	SelectedResourceIDs  []uuid.UUID
	ExcludeAppointmentID *uuid.UUID
}

type Allocator struct {
	store Store
}

func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// LoadPlan fetches everything needed to evaluate req's appointment type over
// req.Range. Selected resources that are missing, deleted or owned by another
// clinic fail with ErrResourceNotFound.
func (a *Allocator) LoadPlan(ctx context.Context, req CheckRequest) (*Plan, error) {
	reqs, err := a.store.ListRequirements(ctx, req.AppointmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list resource requirements: %w", err)
	}

	selected := uniqueIDs(req.SelectedResourceIDs)
	var selectedRows []Resource
	if len(selected) > 0 {
		selectedRows, err = a.store.GetResources(ctx, req.ClinicID, selected)
		if err != nil {
			return nil, fmt.Errorf("get selected resources: %w", err)
		}
		if len(selectedRows) != len(selected) {
			return nil, ErrResourceNotFound.WithDetail("%d of %d selected resources not found", len(selected)-len(selectedRows), len(selected))
		}
	}

	typeIDs := make([]uuid.UUID, 0, len(reqs)+len(selectedRows))
	for _, r := range reqs {
		if r.Quantity > 0 {
			typeIDs = append(typeIDs, r.ResourceTypeID)
		}
	}
	for _, r := range selectedRows {
		typeIDs = append(typeIDs, r.ResourceTypeID)
	}
	typeIDs = uniqueIDs(typeIDs)

	plan := &Plan{Requirements: reqs}
	if len(typeIDs) == 0 {
		return plan, nil
	}

	plan.Resources, err = a.store.ListResources(ctx, req.ClinicID, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	plan.Allocations, err = a.store.ListAllocations(ctx, req.ClinicID, typeIDs, req.Range, req.ExcludeAppointmentID)
	if err != nil {
		return nil, fmt.Errorf("list resource allocations: %w", err)
	}
	return plan, nil
}

// CheckAvailability reports whether the appointment type's requirements, and
// any explicitly selected resources, can be met over req.Range.
func (a *Allocator) CheckAvailability(ctx context.Context, req CheckRequest) (*AvailabilityResult, error) {
	plan, err := a.LoadPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	res := plan.Evaluate(req.Range, req.SelectedResourceIDs)
	return &res, nil
}

// SelectFree picks unallocated resources satisfying every requirement.
func (a *Allocator) SelectFree(ctx context.Context, req CheckRequest) ([]uuid.UUID, error) {
	plan, err := a.LoadPlan(ctx, CheckRequest{
		AppointmentTypeID:    req.AppointmentTypeID,
		ClinicID:             req.ClinicID,
		Range:                req.Range,
		ExcludeAppointmentID: req.ExcludeAppointmentID,
	})
	if err != nil {
		return nil, err
	}
	ids, ok := plan.SelectFree(req.Range)
	if !ok {
		return nil, ErrInsufficientResources
	}
	return ids, nil
}

// Carry re-checks the resources currently linked to appointmentID over
// req.Range and tops up required types they no longer satisfy. Resources
// deleted since they were linked are dropped.
func (a *Allocator) Carry(ctx context.Context, req CheckRequest, appointmentID uuid.UUID) ([]uuid.UUID, *AvailabilityResult, error) {
	current, err := a.store.ListAppointmentResources(ctx, appointmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list appointment resources: %w", err)
	}
	var carried []uuid.UUID
	if len(current) > 0 {
		rows, err := a.store.GetResources(ctx, req.ClinicID, current)
		if err != nil {
			return nil, nil, fmt.Errorf("get resources: %w", err)
		}
		for _, r := range rows {
			carried = append(carried, r.ID)
		}
	}

	plan, err := a.LoadPlan(ctx, CheckRequest{
		AppointmentTypeID:    req.AppointmentTypeID,
		ClinicID:             req.ClinicID,
		Range:                req.Range,
		SelectedResourceIDs:  carried,
		ExcludeAppointmentID: req.ExcludeAppointmentID,
	})
	if err != nil {
		return nil, nil, err
	}
	ids, res := plan.Carry(req.Range, carried)
	return ids, &res, nil
}

// Allocate links the clinic-owned, non-deleted resources among resourceIDs to
// the appointment, replacing earlier links. It does not check availability:
// callers check first and staff may knowingly override a warning.
func (a *Allocator) Allocate(ctx context.Context, clinicID, appointmentID uuid.UUID, resourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	ids := uniqueIDs(resourceIDs)
	var valid []uuid.UUID
	if len(ids) > 0 {
		rows, err := a.store.GetResources(ctx, clinicID, ids)
		if err != nil {
			return nil, fmt.Errorf("get resources: %w", err)
		}
		owned := make(map[uuid.UUID]bool, len(rows))
		for _, r := range rows {
			owned[r.ID] = true
		}
		for _, id := range ids {
			if owned[id] {
				valid = append(valid, id)
			}
		}
	}

	if err := a.store.ReplaceAllocations(ctx, appointmentID, valid); err != nil {
		return nil, fmt.Errorf("replace allocations: %w", err)
	}
	return valid, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
