package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/solverpay-backend/internal/accounts"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/internal/ratelimit"
	pkgAuth "github.com/angelmondragon/solverpay-backend/pkg/auth"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "admin"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "", "command: create-account|rotate-key|suspend|activate|deposit|bonus|worker-token|dlq-list|dlq-requeue")
	email := flag.String("email", "", "account email (create-account)")
	accountID := flag.String("account", "", "account id (rotate-key, suspend, activate, deposit, bonus)")
	amount := flag.String("amount", "", "credit amount in USD (deposit, bonus)")
	ref := flag.String("ref", "", "external reference, unique per account (deposit, bonus)")
	description := flag.String("description", "", "ledger description (deposit, bonus)")
	subject := flag.String("subject", "", "token subject (worker-token)")
	role := flag.String("role", string(enums.ServiceRoleWorker), "token role: worker|admin (worker-token)")
	ttl := flag.Duration("ttl", 0, "token lifetime; zero uses the configured expiration (worker-token)")
	eventID := flag.String("event", "", "outbox event id (dlq-requeue)")
	reason := flag.String("reason", "", "filter by failure reason (dlq-list)")
	limit := flag.Int("limit", 20, "rows to show (dlq-list)")

	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "admin",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	// worker-token only needs the signing config
	if *cmd == "worker-token" {
		serviceRole, err := enums.ParseServiceRole(*role)
		if err != nil || *subject == "" {
			usage("worker-token requires -subject and a valid -role")
		}
		token, err := pkgAuth.MintServiceToken(cfg.JWT, time.Now(), pkgAuth.ServiceTokenPayload{
			Subject: *subject,
			Role:    serviceRole,
			TTL:     *ttl,
		})
		requireResource(ctx, logg, "service token", err)
		fmt.Println(token)
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:         accounts.NewRepository(dbClient.DB()),
		APIKeyConfig: cfg.APIKey,
		Logger:       logg,
	})
	requireResource(ctx, logg, "account service", err)

	switch *cmd {
	case "create-account":
		if *email == "" {
			usage("create-account requires -email")
		}
		reg, err := accountService.Register(ctx, *email)
		requireResource(ctx, logg, "create account", err)
		fmt.Printf("account_id: %s\napi_key:    %s\n", reg.Account.ID, reg.APIKey)
		fmt.Println("the api key is shown once; store it now")

	case "rotate-key":
		id := parseAccountID(*accountID)
		key, err := accountService.RotateKey(ctx, id)
		requireResource(ctx, logg, "rotate key", err)
		fmt.Printf("api_key: %s\n", key)

	case "suspend", "activate":
		id := parseAccountID(*accountID)
		toggle := accountService.Suspend
		if *cmd == "activate" {
			toggle = accountService.Activate
		}
		requireResource(ctx, logg, *cmd, toggle(ctx, id))
		fmt.Printf("%s: %s\n", *cmd, id)

	case "deposit", "bonus":
		id := parseAccountID(*accountID)
		if *amount == "" || *ref == "" {
			usage(*cmd + " requires -amount and -ref")
		}
		value, err := money.Parse(*amount)
		if err != nil {
			usage(fmt.Sprintf("invalid -amount: %v", err))
		}

		// credits never create jobs, so the admission gate stays local
		core, err := orchestrator.Bootstrap(orchestrator.BootstrapParams{
			Config:     cfg,
			DB:         dbClient,
			Gate:       ratelimit.NewMemoryGate(),
			Registerer: prometheus.NewRegistry(),
			Logger:     logg,
		})
		requireResource(ctx, logg, "orchestrator", err)

		credit := core.Deposit
		if *cmd == "bonus" {
			credit = core.GrantBonus
		}
		result, err := credit(ctx, orchestrator.CreditInput{
			AccountID:   id,
			Amount:      value,
			Reference:   *ref,
			Description: *description,
		})
		requireResource(ctx, logg, *cmd, err)
		fmt.Printf("status:  %s\nbalance: %s\n", result.Status, result.Balance)

	case "dlq-list":
		filter := outbox.DLQFilter{Reason: enums.OutboxDLQErrorReason(*reason), Limit: *limit}
		if filter.Reason != "" && !filter.Reason.IsValid() {
			usage(fmt.Sprintf("invalid -reason %q", *reason))
		}
		rows, err := outbox.NewDLQRepository(dbClient.DB()).List(ctx, filter)
		requireResource(ctx, logg, "dlq list", err)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT ID\tTYPE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
		for _, row := range rows {
			msg := ""
			if row.ErrorMessage != nil {
				msg = *row.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.Format(time.RFC3339), msg)
		}
		_ = w.Flush()

	case "dlq-requeue":
		id, err := uuid.Parse(*eventID)
		if err != nil {
			usage("dlq-requeue requires a valid -event id")
		}
		requireResource(ctx, logg, "dlq requeue", outbox.NewDLQRepository(dbClient.DB()).Requeue(ctx, id))
		fmt.Printf("requeued: %s\n", id)

	default:
		usage(fmt.Sprintf("unknown -cmd %q", *cmd))
	}
}

func parseAccountID(raw string) uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		usage("a valid -account id is required")
	}
	return id
}

func usage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	flag.Usage()
	os.Exit(2)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
