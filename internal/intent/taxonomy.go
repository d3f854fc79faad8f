// Package intent classifies sanitized input into a closed taxonomy of task
// categories and binds each category to the capability that serves it.
package intent

import "github.com/quayline/orchestrator/internal/models"

// categoryCapability is the total mapping from category to capability. Every
// category resolves to exactly one capability; there is no default branch at
// call sites, absence here is a bug caught by TestTaxonomyIsTotal.
var categoryCapability = map[models.Category]models.Capability{
	models.CategoryBookingCreate:  models.CapabilityBooking,
	models.CategoryBookingStatus:  models.CapabilityBooking,
	models.CategoryBookingUpdate:  models.CapabilityBooking,
	models.CategoryBookingCancel:  models.CapabilityBooking,
	models.CategoryBookingApprove: models.CapabilityBooking,
	models.CategorySlotQuery:      models.CapabilitySlots,
	models.CategoryCapacityQuery:  models.CapabilitySlots,
	models.CategoryGeneralHelp:    models.CapabilityNone,
	models.CategoryOutOfScope:     models.CapabilityNone,
}

// AllCategories lists the closed taxonomy in a fixed order. The order is the
// tie-break order of the rule classifier and the order presented to the LLM.
var AllCategories = []models.Category{
	models.CategoryBookingCreate,
	models.CategoryBookingStatus,
	models.CategoryBookingUpdate,
	models.CategoryBookingCancel,
	models.CategoryBookingApprove,
	models.CategorySlotQuery,
	models.CategoryCapacityQuery,
	models.CategoryGeneralHelp,
	models.CategoryOutOfScope,
}

// operatorOnly lists categories denied to non-operator roles. A denied
// request classifies to the forbidden capability so the synthesizer can emit
// an explicit denial instead of silently dropping the action.
var operatorOnly = map[models.Category]bool{
	models.CategoryBookingApprove: true,
}

// KnownCategory reports whether c is part of the taxonomy.
func KnownCategory(c models.Category) bool {
	_, ok := categoryCapability[c]
	return ok
}

// resolve applies the capability mapping, the confidence threshold and role
// gating to produce the final classification. It is shared by both
// classifier implementations so their external contract is identical.
func resolve(category models.Category, confidence float64, role models.Role, threshold float64) models.IntentClassification {
	out := models.IntentClassification{
		Category:   category,
		Confidence: confidence,
	}
	if confidence < threshold {
		out.TargetCapability = models.CapabilityClarification
		return out
	}
	if operatorOnly[category] && role != models.RoleOperator {
		out.TargetCapability = models.CapabilityForbidden
		return out
	}
	out.TargetCapability = categoryCapability[category]
	return out
}
