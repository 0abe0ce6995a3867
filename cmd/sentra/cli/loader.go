// Package cli implements the policy loader: a bulk import of directory
// entities from a JSON policy file, applied through the administrative
// manager so every invariant check runs exactly as it would over the API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-iam/sentra/internal/admin"
	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/sod"
)

// LoadMode enumerates supported execution strategies.
type LoadMode string

const (
	// LoadModeDry replays the policy file against an empty in-memory
	// directory and reports what would be created.
	LoadModeDry LoadMode = "dry"
	// LoadModeApply persists the policy file through the configured
	// administrative service.
	LoadModeApply LoadMode = "apply"
)

// Edge names a parent and child for an inheritance section.
type Edge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// OrgUnitEdge names an org-unit inheritance edge with its hierarchy kind.
type OrgUnitEdge struct {
	Kind   hierarchy.Kind `json:"kind"`
	Parent string         `json:"parent"`
	Child  string         `json:"child"`
}

// PermissionEntry declares a permission together with its initial grants.
type PermissionEntry struct {
	admin.PermissionRequest

	Roles []string `json:"roles,omitempty"`
	Users []string `json:"users,omitempty"`
}

// PolicyFile is the JSON import format. Sections are applied in dependency
// order: org units, roles and their hierarchies, admin roles, SD sets, users,
// assignments, then permissions and grants. SSD sets therefore bind the
// assignments declared further down in the same file.
type PolicyFile struct {
	OrgUnits           []admin.OrgUnitRequest   `json:"org_units,omitempty"`
	OrgUnitInheritance []OrgUnitEdge            `json:"org_unit_inheritance,omitempty"`
	Roles              []admin.RoleRequest      `json:"roles,omitempty"`
	Inheritance        []Edge                   `json:"inheritance,omitempty"`
	AdminRoles         []admin.AdminRoleRequest `json:"admin_roles,omitempty"`
	AdminInheritance   []Edge                   `json:"admin_inheritance,omitempty"`
	SDSets             []admin.SDSetRequest     `json:"sd_sets,omitempty"`
	Users              []admin.UserRequest      `json:"users,omitempty"`
	Assignments        []admin.AssignRequest    `json:"assignments,omitempty"`
	Permissions        []PermissionEntry        `json:"permissions,omitempty"`
}

// LoadOptions configures one loader run.
type LoadOptions struct {
	Path       string
	Source     io.Reader
	Mode       LoadMode
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// LoadSummary captures the structured reporting outcome.
type LoadSummary struct {
	Mode        LoadMode `json:"mode"`
	OrgUnits    int      `json:"org_units"`
	Roles       int      `json:"roles"`
	Inheritance int      `json:"inheritance"`
	AdminRoles  int      `json:"admin_roles"`
	SDSets      int      `json:"sd_sets"`
	Users       int      `json:"users"`
	Assignments int      `json:"assignments"`
	Permissions int      `json:"permissions"`
}

// LoaderCLI drives policy imports. The service may be nil when the loader is
// only used in dry mode.
type LoaderCLI struct {
	svc    *admin.Service
	logger *slog.Logger
}

// NewLoaderCLI constructs a loader bound to the given administrative service.
func NewLoaderCLI(svc *admin.Service, logger *slog.Logger) *LoaderCLI {
	return &LoaderCLI{svc: svc, logger: logger}
}

// LoadCommand executes the import workflow. Exit code 0 means the whole file
// was applied, 1 a usage problem, 10 a policy rejected by an invariant.
func (c *LoaderCLI) LoadCommand(ctx context.Context, opts LoadOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Mode == "" {
		opts.Mode = LoadModeDry
	}
	switch opts.Mode {
	case LoadModeDry, LoadModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "load: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}

	source := opts.Source
	if source == nil {
		if opts.Path == "" {
			fmt.Fprintln(opts.Stderr, "load: --file is required")
			return 1
		}
		f, err := os.Open(opts.Path)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "load: open %s: %v\n", opts.Path, err)
			return 1
		}
		defer f.Close()
		source = f
	}

	dec := json.NewDecoder(source)
	dec.DisallowUnknownFields()
	var policy PolicyFile
	if err := dec.Decode(&policy); err != nil {
		fmt.Fprintf(opts.Stderr, "load: parse policy: %v\n", err)
		return 1
	}

	svc := c.svc
	if opts.Mode == LoadModeDry {
		svc = dryService(c.logger)
	}
	if svc == nil {
		fmt.Fprintln(opts.Stderr, "load: apply mode requires a configured directory")
		return 1
	}

	summary := LoadSummary{Mode: opts.Mode}
	if err := apply(ctx, svc, policy, &summary); err != nil {
		fmt.Fprintf(opts.Stderr, "load: %v\n", err)
		return 10
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "load: encode summary: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "mode=%s org_units=%d roles=%d inheritance=%d admin_roles=%d sd_sets=%d users=%d assignments=%d permissions=%d\n",
		summary.Mode, summary.OrgUnits, summary.Roles, summary.Inheritance,
		summary.AdminRoles, summary.SDSets, summary.Users, summary.Assignments, summary.Permissions)
	return 0
}

// dryService builds an administrative manager over an empty in-memory
// directory. MinCost keeps bcrypt from dominating large dry runs.
func dryService(logger *slog.Logger) *admin.Service {
	store := directory.NewMemoryStore()
	return admin.NewService(logger, store, sod.NewValidator(store), nil, bcrypt.MinCost)
}

func apply(ctx context.Context, svc *admin.Service, policy PolicyFile, summary *LoadSummary) error {
	for _, req := range policy.OrgUnits {
		if _, err := svc.CreateOrgUnit(ctx, req); err != nil {
			return fmt.Errorf("org unit %s/%s: %w", req.Kind, req.Name, err)
		}
		summary.OrgUnits++
	}
	for _, e := range policy.OrgUnitInheritance {
		if err := svc.AddOrgUnitInheritance(ctx, e.Kind, e.Parent, e.Child); err != nil {
			return fmt.Errorf("org unit inheritance %s/%s>%s: %w", e.Kind, e.Parent, e.Child, err)
		}
		summary.Inheritance++
	}
	for _, req := range policy.Roles {
		if _, err := svc.CreateRole(ctx, req); err != nil {
			return fmt.Errorf("role %s: %w", req.Name, err)
		}
		summary.Roles++
	}
	for _, e := range policy.Inheritance {
		if err := svc.AddInheritance(ctx, e.Parent, e.Child); err != nil {
			return fmt.Errorf("inheritance %s>%s: %w", e.Parent, e.Child, err)
		}
		summary.Inheritance++
	}
	for _, req := range policy.AdminRoles {
		if _, err := svc.CreateAdminRole(ctx, req); err != nil {
			return fmt.Errorf("admin role %s: %w", req.Name, err)
		}
		summary.AdminRoles++
	}
	for _, e := range policy.AdminInheritance {
		if err := svc.AddAdminInheritance(ctx, e.Parent, e.Child); err != nil {
			return fmt.Errorf("admin inheritance %s>%s: %w", e.Parent, e.Child, err)
		}
		summary.Inheritance++
	}
	for _, req := range policy.SDSets {
		if _, err := svc.CreateSDSet(ctx, req); err != nil {
			return fmt.Errorf("sd set %s: %w", req.Name, err)
		}
		summary.SDSets++
	}
	for _, req := range policy.Users {
		if _, err := svc.CreateUser(ctx, req); err != nil {
			return fmt.Errorf("user %s: %w", req.Name, err)
		}
		summary.Users++
	}
	for _, req := range policy.Assignments {
		if err := svc.AssignUser(ctx, req); err != nil {
			return fmt.Errorf("assignment %s>%s: %w", req.User, req.Role, err)
		}
		summary.Assignments++
	}
	for _, entry := range policy.Permissions {
		if _, err := svc.CreatePermission(ctx, entry.PermissionRequest); err != nil {
			return fmt.Errorf("permission %s.%s: %w", entry.Object, entry.Operation, err)
		}
		for _, role := range entry.Roles {
			if err := svc.GrantToRole(ctx, entry.PermissionRequest, role); err != nil {
				return fmt.Errorf("grant %s.%s to role %s: %w", entry.Object, entry.Operation, role, err)
			}
		}
		for _, user := range entry.Users {
			if err := svc.GrantToUser(ctx, entry.PermissionRequest, user); err != nil {
				return fmt.Errorf("grant %s.%s to user %s: %w", entry.Object, entry.Operation, user, err)
			}
		}
		summary.Permissions++
	}
	return nil
}
