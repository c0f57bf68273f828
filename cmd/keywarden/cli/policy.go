package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage tenant key policies",
	}

	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicySetCmd())
	cmd.AddCommand(newPolicyImportCmd())

	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show the effective policy for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				pol, err := eng.Policy(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(pol)
			})
		},
	}
	return cmd
}

func newPolicySetCmd() *cobra.Command {
	var (
		maxDepth          int
		cascade           bool
		noCascade         bool
		requireExpiry     bool
		noRequireExpiry   bool
		maxExpiryDays     int
		autoExpireDays    int
		defaultRate       int
		maxRateOverride   int
		maxGraceHours     int
		samplingThreshold int
		samplingRate      int
	)

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Update a tenant's policy",
		Long:  "Change individual policy fields. Flags not given keep their current value.",
		Example: `  keywarden policy set acme --default-rate-limit 2000 --max-grace-hours 48
  keywarden policy set acme --no-cascade-revocation
  keywarden policy set acme --sampling-threshold 5000 --sampling-rate 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				pol, err := eng.Policy(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("max-delegation-depth") {
					pol.MaxDelegationDepth = maxDepth
				}
				if cascade {
					pol.RevocationCascadeEnabled = true
				}
				if noCascade {
					pol.RevocationCascadeEnabled = false
				}
				if requireExpiry {
					pol.RequireExpiration = true
				}
				if noRequireExpiry {
					pol.RequireExpiration = false
				}
				if cmd.Flags().Changed("max-expiry-days") {
					pol.MaxExpirationDays = maxExpiryDays
				}
				if cmd.Flags().Changed("auto-expire-unused-days") {
					pol.AutoExpireUnusedDays = autoExpireDays
				}
				if cmd.Flags().Changed("default-rate-limit") {
					pol.DefaultRateLimit = defaultRate
				}
				if cmd.Flags().Changed("max-rate-override") {
					pol.MaxRateLimitOverride = maxRateOverride
				}
				if cmd.Flags().Changed("max-grace-hours") {
					pol.MaxRotationGraceHours = maxGraceHours
				}
				if cmd.Flags().Changed("sampling-threshold") {
					pol.UsageSamplingThreshold = samplingThreshold
				}
				if cmd.Flags().Changed("sampling-rate") {
					pol.UsageSamplingRate = samplingRate
				}

				updated, err := eng.UpdatePolicy(ctx, pol)
				if err != nil {
					return err
				}
				fmt.Printf("Policy updated for tenant %s\n", args[0])
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(updated)
			})
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-delegation-depth", 0, "Bound on the rotation chain depth walked by cascade revocation")
	cmd.Flags().BoolVar(&cascade, "cascade-revocation", false, "Revoke rotation descendants along with a key")
	cmd.Flags().BoolVar(&noCascade, "no-cascade-revocation", false, "Disable cascade revocation")
	cmd.Flags().BoolVar(&requireExpiry, "require-expiration", false, "Reject new keys without an expiration")
	cmd.Flags().BoolVar(&noRequireExpiry, "no-require-expiration", false, "Allow new keys without an expiration")
	cmd.Flags().IntVar(&maxExpiryDays, "max-expiry-days", 0, "Maximum key lifetime in days")
	cmd.Flags().IntVar(&autoExpireDays, "auto-expire-unused-days", 0, "Sweep keys unused for this many days (0 disables)")
	cmd.Flags().IntVar(&defaultRate, "default-rate-limit", 0, "Default per-key requests/hour")
	cmd.Flags().IntVar(&maxRateOverride, "max-rate-override", 0, "Cap on per-key rate limit overrides")
	cmd.Flags().IntVar(&maxGraceHours, "max-grace-hours", 0, "Maximum rotation grace window in hours")
	cmd.Flags().IntVar(&samplingThreshold, "sampling-threshold", 0, "Successful events per hour before sampling kicks in")
	cmd.Flags().IntVar(&samplingRate, "sampling-rate", 0, "Store 1 in N successful events once sampling")
	cmd.MarkFlagsMutuallyExclusive("cascade-revocation", "no-cascade-revocation")
	cmd.MarkFlagsMutuallyExclusive("require-expiration", "no-require-expiration")

	return cmd
}

func newPolicyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import tenant policies from a YAML file",
		Long: `Read a YAML file with a top-level "policies" list and apply each entry.
Fields omitted from an entry keep the tenant's current value.`,
		Example: `  keywarden policy import policies.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			var doc struct {
				Policies []policyPatch `yaml:"policies"`
			}
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if len(doc.Policies) == 0 {
				return fmt.Errorf("%s contains no policies", args[0])
			}

			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				for _, patch := range doc.Policies {
					if patch.TenantID == "" {
						return fmt.Errorf("policy entry missing tenant_id")
					}
					pol, err := eng.Policy(ctx, patch.TenantID)
					if err != nil {
						return err
					}
					patch.apply(pol)
					if _, err := eng.UpdatePolicy(ctx, pol); err != nil {
						return fmt.Errorf("tenant %s: %w", patch.TenantID, err)
					}
					fmt.Printf("Applied policy for tenant %s\n", patch.TenantID)
				}
				return nil
			})
		},
	}
	return cmd
}

// policyPatch mirrors model.Policy with pointer fields so absent YAML keys
// are distinguishable from zero values.
type policyPatch struct {
	TenantID                 string `yaml:"tenant_id"`
	MaxDelegationDepth       *int   `yaml:"max_delegation_depth"`
	RevocationCascadeEnabled *bool  `yaml:"revocation_cascade_enabled"`
	RequireExpiration        *bool  `yaml:"require_expiration"`
	MaxExpirationDays        *int   `yaml:"max_expiration_days"`
	AutoExpireUnusedDays     *int   `yaml:"auto_expire_unused_days"`
	DefaultRateLimit         *int   `yaml:"default_rate_limit"`
	MaxRateLimitOverride     *int   `yaml:"max_rate_limit_override"`
	MaxRotationGraceHours    *int   `yaml:"max_rotation_grace_hours"`
	UsageSamplingThreshold   *int   `yaml:"usage_sampling_threshold"`
	UsageSamplingRate        *int   `yaml:"usage_sampling_rate"`
}

func (p *policyPatch) apply(pol *model.Policy) {
	if p.MaxDelegationDepth != nil {
		pol.MaxDelegationDepth = *p.MaxDelegationDepth
	}
	if p.RevocationCascadeEnabled != nil {
		pol.RevocationCascadeEnabled = *p.RevocationCascadeEnabled
	}
	if p.RequireExpiration != nil {
		pol.RequireExpiration = *p.RequireExpiration
	}
	if p.MaxExpirationDays != nil {
		pol.MaxExpirationDays = *p.MaxExpirationDays
	}
	if p.AutoExpireUnusedDays != nil {
		pol.AutoExpireUnusedDays = *p.AutoExpireUnusedDays
	}
	if p.DefaultRateLimit != nil {
		pol.DefaultRateLimit = *p.DefaultRateLimit
	}
	if p.MaxRateLimitOverride != nil {
		pol.MaxRateLimitOverride = *p.MaxRateLimitOverride
	}
	if p.MaxRotationGraceHours != nil {
		pol.MaxRotationGraceHours = *p.MaxRotationGraceHours
	}
	if p.UsageSamplingThreshold != nil {
		pol.UsageSamplingThreshold = *p.UsageSamplingThreshold
	}
	if p.UsageSamplingRate != nil {
		pol.UsageSamplingRate = *p.UsageSamplingRate
	}
}
