package policy

import (
	"time"

	"github.com/google/uuid"
)

// Resources and actions of the default catalog.
const (
	ResourceClient         = "client"
	ResourceClinicalNotes  = "clinical_notes"
	ResourceTreatmentPlans = "treatment_plans"
	ResourceAppointments   = "appointments"
	ResourceBilling        = "billing"
	ResourceInsurance      = "insurance"
	ResourceReports        = "reports"
	ResourceUsers          = "users"
	ResourceAuditLogs      = "audit_logs"
	ResourceSystem         = "system"

	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionExport  = "export"
	ActionApprove = "approve"
	ActionSign    = "sign"
)

// Default role names.
const (
	RoleClinicalDirector  = "Clinical Director"
	RoleTherapist         = "Therapist"
	RoleBillingSpecialist = "Billing Specialist"
	RoleFrontDesk         = "Front Desk"
	RoleSystemAdmin       = "System Administrator"
	RoleComplianceOfficer = "Compliance Officer"
)

var catalogNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:phiguard:catalog"))

// CatalogID returns the stable id used for a catalog role or permission name.
func CatalogID(kind, name string) string {
	return uuid.NewSHA1(catalogNamespace, []byte(kind+":"+name)).String()
}

// DefaultRegistry returns a frozen registry of the catalog resources.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	crud := []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	_ = r.Register(ResourceClient, append(crud, ActionExport)...)
	_ = r.Register(ResourceClinicalNotes, append(crud, ActionSign)...)
	_ = r.Register(ResourceTreatmentPlans, append(crud, ActionApprove)...)
	_ = r.Register(ResourceAppointments, crud...)
	_ = r.Register(ResourceBilling, append(crud, ActionApprove)...)
	_ = r.Register(ResourceInsurance, crud...)
	_ = r.Register(ResourceReports, ActionRead, ActionExport)
	_ = r.Register(ResourceUsers, crud...)
	_ = r.Register(ResourceAuditLogs, ActionRead, ActionExport)
	_ = r.Register(ResourceSystem, ActionRead, ActionUpdate)
	r.Freeze()
	return r
}

func perm(name, resource string, actions ...string) Permission {
	return Permission{
		ID:       CatalogID("permission", name),
		Name:     name,
		Resource: resource,
		Actions:  actions,
	}
}

func role(name string, category Category, level AccessLevel, emergency bool, perms ...Permission) Role {
	return Role{
		ID:                CatalogID("role", name),
		Name:              name,
		Category:          category,
		AccessLevel:       level,
		EmergencyOverride: emergency,
		Permissions:       perms,
	}
}

func businessHours() *TimeRestriction {
	return &TimeRestriction{BusinessHoursOnly: true}
}

// DefaultRoles returns the standard behavioral-health practice roles.
func DefaultRoles() []Role {
	clientAssigned := perm("client.assigned_access", ResourceClient, ActionRead, ActionUpdate)
	clientAssigned.Condition = &AccessCondition{ClientScope: ScopeAssigned}

	notesAssigned := perm("clinical_notes.assigned", ResourceClinicalNotes, ActionCreate, ActionRead, ActionUpdate, ActionSign)
	notesAssigned.Condition = &AccessCondition{ClientScope: ScopeAssigned, RequireMFA: true}

	plansAssigned := perm("treatment_plans.assigned", ResourceTreatmentPlans, ActionCreate, ActionRead, ActionUpdate)
	plansAssigned.Condition = &AccessCondition{ClientScope: ScopeAssigned}

	emergencyClient := perm("client.emergency_access", ResourceClient, ActionRead)
	emergencyClient.Condition = &AccessCondition{ClientScope: ScopeAll, EmergencyOnly: true}

	clientFull := perm("client.full_access", ResourceClient, ActionCreate, ActionRead, ActionUpdate, ActionExport)
	clientFull.Condition = &AccessCondition{ClientScope: ScopeAll, RequireMFA: true}

	clientBasic := perm("client.basic_access", ResourceClient, ActionRead)
	clientBasic.Condition = &AccessCondition{DataScope: []string{"demographics", "billing", "insurance"}}

	frontDeskClient := perm("client.front_desk", ResourceClient, ActionCreate, ActionRead, ActionUpdate)
	frontDeskClient.Condition = &AccessCondition{DataScope: []string{"demographics", "contact"}}
	frontDeskClient.Time = businessHours()

	appointments := perm("appointments.scheduling", ResourceAppointments, ActionCreate, ActionRead, ActionUpdate, ActionDelete)
	appointments.Time = &TimeRestriction{AllowedHours: &HourRange{Start: 7, End: 20}}

	reportsAdmin := perm("reports.administrative", ResourceReports, ActionRead, ActionExport)
	reportsAdmin.Condition = &AccessCondition{DataScope: []string{"administrative", "financial"}}
	reportsAdmin.Time = businessHours()

	systemConfig := perm("system.configuration", ResourceSystem, ActionRead, ActionUpdate)
	systemConfig.Location = &LocationRestriction{RequireSecureNetwork: true}
	systemConfig.Condition = &AccessCondition{RequireMFA: true}

	auditReview := perm("audit_logs.review", ResourceAuditLogs, ActionRead, ActionExport)
	auditReview.Condition = &AccessCondition{RequireMFA: true, MinSecurityLevel: 70}

	complianceClient := perm("client.compliance_review", ResourceClient, ActionRead)
	complianceClient.Condition = &AccessCondition{ClientScope: ScopeAll, RequireMFA: true, MinSecurityLevel: 70}
	complianceClient.Time = &TimeRestriction{
		BusinessHoursOnly: true,
		AllowedDays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	return []Role{
		role(RoleClinicalDirector, CategoryClinical, AccessFull, true,
			clientFull,
			perm("clinical_notes.full_access", ResourceClinicalNotes, ActionCreate, ActionRead, ActionUpdate, ActionSign),
			perm("treatment_plans.approval", ResourceTreatmentPlans, ActionCreate, ActionRead, ActionUpdate, ActionApprove),
			perm("reports.clinical", ResourceReports, ActionRead, ActionExport),
			appointments,
		),
		role(RoleTherapist, CategoryClinical, AccessLimited, true,
			clientAssigned,
			notesAssigned,
			plansAssigned,
			appointments,
			emergencyClient,
		),
		role(RoleBillingSpecialist, CategoryAdministrative, AccessLimited, false,
			perm("billing.management", ResourceBilling, ActionCreate, ActionRead, ActionUpdate),
			perm("insurance.management", ResourceInsurance, ActionCreate, ActionRead, ActionUpdate),
			clientBasic,
			reportsAdmin,
		),
		role(RoleFrontDesk, CategoryAdministrative, AccessMinimal, false,
			frontDeskClient,
			appointments,
		),
		role(RoleSystemAdmin, CategoryTechnical, AccessAdministrative, false,
			perm("users.management", ResourceUsers, ActionCreate, ActionRead, ActionUpdate, ActionDelete),
			systemConfig,
			perm("audit_logs.read", ResourceAuditLogs, ActionRead),
		),
		role(RoleComplianceOfficer, CategoryExecutive, AccessFull, false,
			auditReview,
			perm("reports.compliance", ResourceReports, ActionRead, ActionExport),
			complianceClient,
		),
	}
}

// SeedDefaults stores the catalog roles in repo.
func SeedDefaults(repo *MemoryRepository) error {
	for _, r := range DefaultRoles() {
		if err := repo.PutRole(r); err != nil {
			return err
		}
	}
	return nil
}
