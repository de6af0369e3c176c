package resource

import (
	"github.com/google/uuid"
)

// Plan is a pre-fetched view of requirements, resources and allocations that
// can be evaluated for many candidate ranges without further I/O.
type Plan struct {
	Requirements []Requirement
	Resources    []Resource
	Allocations  []Allocation
}

// Required reports whether any requirement has a positive quantity.
func (p *Plan) Required() bool {
	for _, r := range p.Requirements {
		if r.Quantity > 0 {
			return true
		}
	}
	return false
}

// busy maps each resource allocated during rng to the holding appointment.
func (p *Plan) busy(rng TimeRange) map[uuid.UUID]uuid.UUID {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, a := range p.Allocations {
		if rng.Overlaps(TimeRange{Start: a.Start, End: a.End}) {
			out[a.ResourceID] = a.AppointmentID
		}
	}
	return out
}

// Evaluate checks requirements and selected resources over rng. For a type
// with selected resources, only the conflict-free selected ones count toward
// its quantity; otherwise every free resource of the type counts.
func (p *Plan) Evaluate(rng TimeRange, selected []uuid.UUID) AvailabilityResult {
	busy := p.busy(rng)

	byID := make(map[uuid.UUID]Resource, len(p.Resources))
	for _, r := range p.Resources {
		byID[r.ID] = r
	}

	selectedByType := make(map[uuid.UUID][]Resource)
	for _, id := range uniqueIDs(selected) {
		if r, ok := byID[id]; ok {
			selectedByType[r.ResourceTypeID] = append(selectedByType[r.ResourceTypeID], r)
		}
	}

	type typeNeed struct {
		typeID   uuid.UUID
		name     string
		quantity int
	}
	var needs []typeNeed
	seen := make(map[uuid.UUID]bool)
	for _, r := range p.Requirements {
		if r.Quantity <= 0 && len(selectedByType[r.ResourceTypeID]) == 0 {
			continue
		}
		needs = append(needs, typeNeed{typeID: r.ResourceTypeID, name: r.ResourceTypeName, quantity: r.Quantity})
		seen[r.ResourceTypeID] = true
	}
	for _, id := range uniqueIDs(selected) {
		r, ok := byID[id]
		if !ok || seen[r.ResourceTypeID] {
			continue
		}
		needs = append(needs, typeNeed{typeID: r.ResourceTypeID})
		seen[r.ResourceTypeID] = true
	}

	res := AvailabilityResult{}
	for _, need := range needs {
		if sel := selectedByType[need.typeID]; len(sel) > 0 {
			free := 0
			for _, r := range sel {
				if apptID, taken := busy[r.ID]; taken {
					res.Conflicts = append(res.Conflicts, ResourceConflict{
						ResourceID:               r.ID,
						ResourceName:             r.Name,
						ConflictingAppointmentID: apptID,
					})
					continue
				}
				free++
			}
			if free < need.quantity {
				res.InsufficientRequirements = append(res.InsufficientRequirements, InsufficientRequirement{
					ResourceTypeID:   need.typeID,
					ResourceTypeName: need.name,
					Required:         need.quantity,
					Available:        free,
					Selected:         len(sel),
				})
			}
			continue
		}

		free := 0
		for _, r := range p.Resources {
			if r.ResourceTypeID != need.typeID {
				continue
			}
			if _, taken := busy[r.ID]; !taken {
				free++
			}
		}
		if free < need.quantity {
			res.InsufficientRequirements = append(res.InsufficientRequirements, InsufficientRequirement{
				ResourceTypeID:   need.typeID,
				ResourceTypeName: need.name,
				Required:         need.quantity,
				Available:        free,
			})
		}
	}

	res.IsAvailable = len(res.InsufficientRequirements) == 0 && len(res.Conflicts) == 0
	return res
}

// SelectFree picks, for each requirement, the first free resources of its
// type in listing order. ok is false when any requirement cannot be met.
func (p *Plan) SelectFree(rng TimeRange) (ids []uuid.UUID, ok bool) {
	busy := p.busy(rng)
	for _, req := range p.Requirements {
		if req.Quantity <= 0 {
			continue
		}
		picked := 0
		for _, r := range p.Resources {
			if picked == req.Quantity {
				break
			}
			if r.ResourceTypeID != req.ResourceTypeID {
				continue
			}
			if _, taken := busy[r.ID]; taken {
				continue
			}
			ids = append(ids, r.ID)
			picked++
		}
		if picked < req.Quantity {
			return nil, false
		}
	}
	return ids, true
}

// Carry re-checks an existing allocation over rng. Carried resources that are
// still free are kept. A taken carried resource of a required type is dropped
// and its type topped up from free resources in listing order; a taken one of
// any other type is reported as a conflict and kept.
func (p *Plan) Carry(rng TimeRange, carried []uuid.UUID) ([]uuid.UUID, AvailabilityResult) {
	busy := p.busy(rng)

	byID := make(map[uuid.UUID]Resource, len(p.Resources))
	for _, r := range p.Resources {
		byID[r.ID] = r
	}
	required := make(map[uuid.UUID]bool)
	for _, req := range p.Requirements {
		if req.Quantity > 0 {
			required[req.ResourceTypeID] = true
		}
	}

	var res AvailabilityResult
	var ids []uuid.UUID
	kept := make(map[uuid.UUID]bool)
	carriedByType := make(map[uuid.UUID]int)
	haveByType := make(map[uuid.UUID]int)
	for _, id := range uniqueIDs(carried) {
		r, ok := byID[id]
		if !ok {
			continue
		}
		carriedByType[r.ResourceTypeID]++
		if apptID, taken := busy[id]; taken {
			if required[r.ResourceTypeID] {
				continue
			}
			res.Conflicts = append(res.Conflicts, ResourceConflict{
				ResourceID:               r.ID,
				ResourceName:             r.Name,
				ConflictingAppointmentID: apptID,
			})
		} else {
			haveByType[r.ResourceTypeID]++
		}
		ids = append(ids, id)
		kept[id] = true
	}

	for _, req := range p.Requirements {
		if req.Quantity <= 0 {
			continue
		}
		have := haveByType[req.ResourceTypeID]
		for _, r := range p.Resources {
			if have >= req.Quantity {
				break
			}
			if r.ResourceTypeID != req.ResourceTypeID || kept[r.ID] {
				continue
			}
			if _, taken := busy[r.ID]; taken {
				continue
			}
			ids = append(ids, r.ID)
			kept[r.ID] = true
			have++
		}
		haveByType[req.ResourceTypeID] = have
		if have < req.Quantity {
			res.InsufficientRequirements = append(res.InsufficientRequirements, InsufficientRequirement{
				ResourceTypeID:   req.ResourceTypeID,
				ResourceTypeName: req.ResourceTypeName,
				Required:         req.Quantity,
				Available:        have,
				Selected:         carriedByType[req.ResourceTypeID],
			})
		}
	}

	res.IsAvailable = len(res.InsufficientRequirements) == 0 && len(res.Conflicts) == 0
	return ids, res
}
