package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rotate, suspend, reinstate, and revoke the scoped API keys of a tenant.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyGetCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeySuspendCmd())
	cmd.AddCommand(newKeyReinstateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyUsageCmd())

	return cmd
}

// withEngine opens the store, builds an engine, runs fn, and closes up.
func withEngine(fn func(ctx context.Context, eng *service.Engine, st *store.Store) error) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(context.Background(), service.NewEngine(st, newLogger()), st)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		tenantID  string
		label     string
		keyType   string
		perm      string
		scopeType string
		scopeID   string
		origins   []string
		ips       []string
		expiresIn string
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Mint a new API key. The raw secret is shown once and cannot be retrieved again.",
		Example: `  keywarden key create --tenant acme --scope-type tenant --permission admin --label "ops key"
  keywarden key create --tenant acme --type public --scope-type space --scope-id sp_42 \
      --origin https://app.acme.com --label "widget embed"
  keywarden key create --tenant acme --scope-type assistant --scope-id asst_7 \
      --permission write --expires-in 720h --rate-limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(tenantID, label, keyType, perm, scopeType, scopeID,
				origins, ips, expiresIn, rateLimit)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Owning tenant (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&keyType, "type", "secret", "Key type: secret or public")
	cmd.Flags().StringVar(&perm, "permission", "read", "Permission level: read, write, or admin")
	cmd.Flags().StringVar(&scopeType, "scope-type", "", "Scope type: tenant, space, assistant, or app (required)")
	cmd.Flags().StringVar(&scopeID, "scope-id", "", "Scoped object id (required except for tenant scope)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "Allowed browser origin (public keys, repeatable)")
	cmd.Flags().StringSliceVar(&ips, "allow-ip", nil, "Allowed IP or CIDR (secret keys, repeatable)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Expiration as a duration from now (e.g. 720h)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Per-key requests/hour override (0 = tenant default)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("scope-type")

	return cmd
}

func runKeyCreate(tenantID, label, keyType, perm, scopeType, scopeID string,
	origins, ips []string, expiresIn string, rateLimit int) error {

	in := service.CreateKeyInput{
		TenantID:       tenantID,
		Label:          label,
		KeyType:        model.KeyType(keyType),
		Permission:     model.Permission(perm),
		ScopeType:      model.ScopeType(scopeType),
		AllowedOrigins: origins,
		AllowedIPs:     ips,
	}
	if scopeID != "" {
		in.ScopeID = &scopeID
	}
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		t := time.Now().Add(d)
		in.ExpiresAt = &t
	}
	if rateLimit > 0 {
		in.RateLimit = &rateLimit
	}

	return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
		key, secret, err := eng.CreateKey(ctx, in)
		if err != nil {
			return err
		}

		fmt.Println("API key created:")
		fmt.Println()
		fmt.Printf("  Secret:     %s\n", secret)
		fmt.Printf("  Key ID:     %s\n", key.ID)
		fmt.Printf("  Display:    %s\n", key.Display())
		fmt.Printf("  Scope:      %s", key.ScopeType)
		if key.ScopeID != nil {
			fmt.Printf(":%s", *key.ScopeID)
		}
		fmt.Println()
		fmt.Printf("  Permission: %s\n", key.Permission)
		if key.ExpiresAt != nil {
			fmt.Printf("  Expires:    %s\n", key.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Println()
		fmt.Println("  Save the secret now - it cannot be retrieved again.")
		return nil
	})
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		tenantID   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(tenantID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant whose keys to list (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyList(tenantID string, jsonOutput bool) error {
	return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
		keys, err := eng.ListKeys(ctx, tenantID)
		if err != nil {
			return err
		}

		type keyRow struct {
			ID      string `json:"id"`
			Display string `json:"display"`
			Label   string `json:"label"`
			Scope   string `json:"scope"`
			Perm    string `json:"permission"`
			State   string `json:"state"`
		}

		rows := make([]keyRow, len(keys))
		for i := range keys {
			state, err := eng.KeyState(ctx, &keys[i])
			if err != nil {
				return err
			}
			scope := string(keys[i].ScopeType)
			if keys[i].ScopeID != nil {
				scope += ":" + *keys[i].ScopeID
			}
			rows[i] = keyRow{
				ID:      keys[i].ID,
				Display: keys[i].Display(),
				Label:   keys[i].Label,
				Scope:   scope,
				Perm:    string(keys[i].Permission),
				State:   string(state),
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		if len(rows) == 0 {
			fmt.Printf("No API keys for tenant %q. Use 'keywarden key create' to create one.\n", tenantID)
			return nil
		}

		fmt.Printf("%-38s %-20s %-24s %-10s %-10s\n", "ID", "KEY", "SCOPE", "PERM", "STATE")
		for _, k := range rows {
			fmt.Printf("%-38s %-20s %-24s %-10s %-10s\n", k.ID, k.Display, k.Scope, k.Perm, k.State)
		}
		return nil
	})
}

// ---------- key get ----------

func newKeyGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key-id>",
		Short: "Show one API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				key, err := eng.GetKey(ctx, args[0])
				if err != nil {
					return err
				}
				state, err := eng.KeyState(ctx, key)
				if err != nil {
					return err
				}
				out := struct {
					*model.APIKey
					State model.KeyState `json:"state"`
				}{key, state}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
	return cmd
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var graceHours int

	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate an API key",
		Long:  "Mint a successor key with identical constraints. The old secret keeps working until the grace window closes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				successor, secret, err := eng.RotateKey(ctx, args[0], time.Duration(graceHours)*time.Hour)
				if err != nil {
					return err
				}
				fmt.Println("Key rotated:")
				fmt.Println()
				fmt.Printf("  New secret: %s\n", secret)
				fmt.Printf("  New key ID: %s\n", successor.ID)
				fmt.Println()
				fmt.Println("  The old secret keeps verifying until the grace window closes.")
				fmt.Println("  Save the new secret now - it cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&graceHours, "grace-hours", 0, "Grace window in hours (default 24, capped by tenant policy)")

	return cmd
}

// ---------- key suspend / reinstate / revoke ----------

func newKeySuspendCmd() *cobra.Command {
	var (
		reason string
		detail string
	)

	cmd := &cobra.Command{
		Use:   "suspend <key-id>",
		Short: "Suspend an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				_, err := eng.SuspendKey(ctx, args[0], model.ReasonCode(reason), optionalDetail(detail))
				if err != nil {
					return err
				}
				fmt.Printf("Suspended key %s (%s)\n", args[0], reason)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason code, e.g. security_concern (required)")
	cmd.Flags().StringVar(&detail, "detail", "", "Free-text elaboration for the audit trail")
	cmd.MarkFlagRequired("reason")

	return cmd
}

func newKeyReinstateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reinstate <key-id>",
		Short: "Reinstate a suspended API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				_, err := eng.ReinstateKey(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Reinstated key %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func newKeyRevokeCmd() *cobra.Command {
	var (
		reason string
		detail string
	)

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Permanently revoke an API key",
		Long:  "Revoke a key. When the tenant policy enables cascade, rotation descendants are revoked too. Irreversible.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				_, err := eng.RevokeKey(ctx, args[0], model.ReasonCode(reason), optionalDetail(detail))
				if err != nil {
					return err
				}
				fmt.Printf("Revoked key %s (%s)\n", args[0], reason)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason code, e.g. key_compromised (required)")
	cmd.Flags().StringVar(&detail, "detail", "", "Free-text elaboration for the audit trail")
	cmd.MarkFlagRequired("reason")

	return cmd
}

// ---------- key usage ----------

func newKeyUsageCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "usage <key-id>",
		Short: "Show usage summary and recent events for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, eng *service.Engine, _ *store.Store) error {
				summary, events, _, err := eng.ListUsage(ctx, args[0], limit, "")
				if err != nil {
					return err
				}
				out := map[string]interface{}{
					"summary": summary,
					"events":  events,
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "Number of recent events to include")

	return cmd
}

func optionalDetail(detail string) *string {
	if detail == "" {
		return nil
	}
	return &detail
}
