package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// cli carries state shared by every command of one invocation
type cli struct {
	open     opener
	rt       *runtime
	logLevel string
	json     bool
}

// run executes tenantctl with args. The runtime opened by the command is
// closed afterwards whether or not the command failed.
func run(ctx context.Context, open opener, stdout, stderr io.Writer, args []string) error {
	c := &cli{open: open}
	root := c.rootCommand()
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if c.rt != nil && c.rt.close != nil {
		err = multierr.Append(err, c.rt.close(ctx))
	}
	return err
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenantctl",
		Short: "Administer tenants, subscriptions and domain mappings",
		Long: `tenantctl operates on the tenant directory the server reads.

Tenants are addressed by numeric id or by any of their domain keys, e.g.
"tenantctl suspend grace --reason chargeback".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open(cmd.Context(), c.logLevel)
			if err != nil {
				return fmt.Errorf("open tenant directory: %w", err)
			}
			c.rt = rt
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.json, "json", false, "Print results as JSON")

	root.AddCommand(
		c.createCommand(),
		c.listCommand(),
		c.getCommand(),
		c.trialCommand(),
		c.upgradeCommand(),
		c.graceCommand(),
		c.transitionCommand("suspend", "Suspend a tenant's access"),
		c.transitionCommand("cancel", "Cancel a tenant's subscription"),
		c.transitionCommand("reactivate", "Restore a suspended, cancelled or deactivated tenant"),
		c.transitionCommand("deactivate", "Take a tenant out of resolution without deleting it"),
		c.deleteCommand(),
		c.bypassCommand(),
		c.domainsCommand(),
		c.membersCommand(),
		c.tokenCommand(),
	)
	return root
}

// tenantID resolves ref, a numeric id or a domain key
func (c *cli) tenantID(cmd *cobra.Command, ref string) (snowflake.ID, error) {
	if id, err := snowflake.ParseString(ref); err == nil && id > 0 {
		return id, nil
	}
	t, err := c.rt.service.GetByKey(cmd.Context(), ref)
	if err != nil {
		return 0, fmt.Errorf("tenant %q: %w", ref, err)
	}
	return snowflake.ParseString(t.ID)
}

func (c *cli) createCommand() *cobra.Command {
	var (
		input   tenancyapp.CreateTenantInput
		noTrial bool
	)
	cmd := &cobra.Command{
		Use:   "create <subdomain>",
		Short: "Onboard a tenant with its partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Subdomain = args[0]
			if input.Name == "" {
				input.Name = args[0]
			}
			input.StartTrial = !noTrial
			t, err := c.rt.service.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			return c.printTenant(cmd, t)
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "Display name (default: the subdomain)")
	cmd.Flags().StringVar(&input.ContactEmail, "email", "", "Contact email")
	cmd.Flags().StringSliceVar(&input.Domains, "domain", nil, "Extra domain key mapped to the tenant (repeatable)")
	cmd.Flags().BoolVar(&noTrial, "no-trial", false, "Do not start the trial")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	var filter tenancyapp.TenantFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.rt.service.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return c.printTenants(cmd, result)
		},
	}
	cmd.Flags().StringVar(&filter.Keyword, "search", "", "Match subdomain or name")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by subscription status")
	cmd.Flags().StringVar(&filter.Plan, "plan", "", "Filter by plan")
	cmd.Flags().BoolVar(&filter.IncludeGone, "all", false, "Include deactivated tenants")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&filter.PageSize, "page-size", 50, "Page size (max 100)")
	cmd.Flags().StringVar(&filter.SortBy, "sort", "subdomain", "Sort field")
	return cmd
}

func (c *cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant>",
		Short: "Show a tenant and its subscription status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.tenantID(cmd, args[0])
			if err != nil {
				return err
			}
			t, err := c.rt.service.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			status, err := c.rt.service.SubscriptionStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			if c.json {
				return writeJSON(cmd.OutOrStdout(), struct {
					Tenant       *tenancyapp.TenantDTO             `json:"tenant"`
					Subscription *tenancyapp.SubscriptionStatusDTO `json:"subscription"`
				}{t, status})
			}
			if err := c.printTenant(cmd, t); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), status)
		},
	}
}

func (c *cli) trialCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trial <tenant>",
		Short: "Start the trial period now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.mutate(cmd, args[0], c.rt.service.StartTrial)
		},
	}
}

func (c *cli) upgradeCommand() *cobra.Command {
	var plan, cycle string
	cmd := &cobra.Command{
		Use:   "upgrade <tenant>",
		Short: "Activate a paid plan from now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, bc := tenancy.Plan(plan), tenancy.BillingCycle(cycle)
			if !p.IsValid() || p == tenancy.PlanTrial {
				return fmt.Errorf("invalid plan %q", plan)
			}
			if !bc.IsValid() {
				return fmt.Errorf("invalid billing cycle %q", cycle)
			}
			return c.mutate(cmd, args[0], func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
				return c.rt.service.Upgrade(ctx, id, p, bc)
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", string(tenancy.PlanStandard), "basic, standard, premium or enterprise")
	cmd.Flags().StringVar(&cycle, "cycle", string(tenancy.CycleMonthly), "monthly or yearly")
	return cmd
}

func (c *cli) graceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "grace-period <tenant> <days>",
		Short: "Set the days of access kept after an end date passes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid days %q", args[1])
			}
			return c.mutate(cmd, args[0], func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
				return c.rt.service.SetGracePeriod(ctx, id, days)
			})
		},
	}
}

func (c *cli) transitionCommand(name, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   name + " <tenant>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := c.rt.service
			var op func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error)
			switch name {
			case "suspend":
				op = func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
					return svc.Suspend(ctx, id, reason)
				}
			case "cancel":
				op = svc.Cancel
			case "reactivate":
				op = svc.Reactivate
			case "deactivate":
				op = svc.Deactivate
			default:
				return fmt.Errorf("unknown transition %q", name)
			}
			return c.mutate(cmd, args[0], op)
		},
	}
	if name == "suspend" {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the suspension")
	}
	return cmd
}

func (c *cli) deleteCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <tenant>",
		Short: "Delete a tenant together with its partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.tenantID(cmd, args[0])
			if err != nil {
				return err
			}
			if err := c.rt.service.Delete(cmd.Context(), id, force); err != nil {
				if errors.Is(err, tenancy.ErrTenantHasMembers) {
					return fmt.Errorf("%w (use --force)", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted tenant %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete even if members remain")
	return cmd
}

func (c *cli) bypassCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bypass",
		Short: "Exempt tenants from subscription enforcement",
	}

	set := func(enabled bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return c.mutate(cmd, args[0], func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
				return c.rt.service.SetBypass(ctx, id, enabled)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on <tenant>",
			Short: "Always allow the tenant regardless of billing state",
			Args:  cobra.ExactArgs(1),
			RunE:  set(true),
		},
		&cobra.Command{
			Use:   "off <tenant>",
			Short: "Enforce the tenant's subscription again",
			Args:  cobra.ExactArgs(1),
			RunE:  set(false),
		},
		&cobra.Command{
			Use:   "status <tenant>",
			Short: "Show the bypass switch and the resulting subscription status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := c.tenantID(cmd, args[0])
				if err != nil {
					return err
				}
				status, err := c.rt.service.SubscriptionStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				if c.json {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				return printStatus(cmd.OutOrStdout(), status)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List tenants with the bypass switch on",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := c.rt.service.List(cmd.Context(), tenancyapp.TenantFilter{
					BypassOnly:  true,
					IncludeGone: true,
					PageSize:    100,
					SortBy:      "subdomain",
				})
				if err != nil {
					return err
				}
				return c.printTenants(cmd, result)
			},
		},
	)
	return cmd
}

func (c *cli) domainsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Manage the domain keys that resolve to a tenant",
	}

	var primary bool
	add := &cobra.Command{
		Use:   "add <tenant> <domain>",
		Short: "Map a domain key to the tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.tenantID(cmd, args[0])
			if err != nil {
				return err
			}
			d, err := c.rt.service.AddDomain(cmd.Context(), id, args[1], primary)
			if err != nil {
				return err
			}
			return c.printDomains(cmd, []tenancyapp.DomainDTO{*d})
		},
	}
	add.Flags().BoolVar(&primary, "primary", false, "Make the new key the primary domain")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <tenant>",
			Short: "List the tenant's domain keys",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := c.tenantID(cmd, args[0])
				if err != nil {
					return err
				}
				domains, err := c.rt.service.Domains(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.printDomains(cmd, domains)
			},
		},
		add,
		&cobra.Command{
			Use:   "primary <tenant> <domain>",
			Short: "Make an existing key the primary domain",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := c.tenantID(cmd, args[0])
				if err != nil {
					return err
				}
				if err := c.rt.service.SetPrimaryDomain(cmd.Context(), id, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Primary domain of %s is now %s\n", id, tenancy.NormalizeKey(args[1]))
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) membersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage tenant members",
	}
	var role string
	add := &cobra.Command{
		Use:   "add <tenant> <email>",
		Short: "Add a member to the tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := tenancy.Role(role)
			if !r.IsValid() || r == tenancy.RoleSuperAdmin {
				return fmt.Errorf("invalid member role %q", role)
			}
			id, err := c.tenantID(cmd, args[0])
			if err != nil {
				return err
			}
			if err := c.rt.service.AddMember(cmd.Context(), id, args[1], r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s as %s\n", args[1], id, r)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(tenancy.RoleMember), "admin or member")
	cmd.AddCommand(add)
	return cmd
}

func (c *cli) tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens",
	}
	var (
		role, email, user, tenantRef string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token signed with the server's secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var home *snowflake.ID
			if tenantRef != "" {
				id, err := c.tenantID(cmd, tenantRef)
				if err != nil {
					return err
				}
				home = &id
			}
			if user == "" {
				user = email
			}
			p, err := tenancy.NewPrincipal(user, email, tenancy.Role(role), home)
			if err != nil {
				return err
			}
			token, expiresAt, err := c.rt.tokens.GenerateAccessToken(p)
			if err != nil {
				return err
			}
			if c.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"access_token": token,
					"expires_at":   expiresAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&role, "role", string(tenancy.RoleSuperAdmin), "superadmin, admin or member")
	issue.Flags().StringVar(&email, "email", "", "Email claim")
	issue.Flags().StringVar(&user, "user", "", "User id claim (default: the email)")
	issue.Flags().StringVar(&tenantRef, "tenant", "", "Home tenant; required for admin and member")
	_ = issue.MarkFlagRequired("email")
	cmd.AddCommand(issue)
	return cmd
}

// mutate resolves ref and prints the tenant returned by op
func (c *cli) mutate(cmd *cobra.Command, ref string, op func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error)) error {
	id, err := c.tenantID(cmd, ref)
	if err != nil {
		return err
	}
	t, err := op(cmd.Context(), id)
	if err != nil {
		return err
	}
	return c.printTenant(cmd, t)
}
