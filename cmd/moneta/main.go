// Command moneta is the ledger CLI: payment methods, transactions,
// transfers, budgets, balances and exchange rates over a local SQLite
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/amqp"
	"moneta/internal/cli"
	"moneta/internal/config"
	"moneta/internal/core"
	"moneta/internal/rates"
	"moneta/internal/services"
	"moneta/internal/storage"
)

const dateLayout = "2006-01-02"

type app struct {
	cfg       *config.Config
	store     *storage.Store
	cache     *rates.Cache
	settings  *services.SettingsService
	methods   *services.PaymentMethodService
	ledger    *services.LedgerService
	transfers *services.TransferService
	budgets   *services.BudgetService
	balances  *services.BalanceService
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	store := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	var provider rates.Provider
	if cfg.RatesProviderURL != "" {
		provider = rates.NewHTTPProvider(cfg.RatesProviderURL, "provider")
	}
	cache := rates.NewCache(store, provider, cfg.RatesFreshFor, cfg.RatesFetchTimeout)
	settings := services.NewSettingsService(store, cfg.DefaultBaseCurrency)

	a := &app{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		settings:  settings,
		methods:   services.NewPaymentMethodService(store),
		ledger:    services.NewLedgerService(store, cache, settings),
		transfers: services.NewTransferService(store, cache, settings),
		budgets:   services.NewBudgetService(store),
		balances:  services.NewBalanceService(store, settings),
	}

	owner := os.Getenv("MONETA_OWNER")
	if owner == "" {
		owner = "default"
	}

	if err := a.run(context.Background(), owner, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: moneta <command> [flags]

commands:
  method-add -name N -currency C [-kind K] [-color C] [-default]
  method-list
  method-default -id ID
  method-rename -id ID -name N
  method-deactivate -id ID
  add -type income|expense -amount A -category C [-method ID] [-date D] [-desc S] [-tags a,b] [-rate R]
  list
  delete -id ID
  transfer -from ID -to ID -amount A [-date D] [-desc S]
  transfer-delete -id ID
  budget-add (-category C | -tag T) -amount A -period YYYY-MM
  budget-list
  budget-update -id ID -amount A
  budget-delete -id ID
  balance [-by-currency]
  rate-set -from C -to C -rate R [-date D]
  rate-get -from C -to C [-date D]
  base-set -currency C
  base-get
  refresh [-from C -to C]

the owner is taken from MONETA_OWNER (default "default").`)
}

func (a *app) run(ctx context.Context, owner, command string, args []string) error {
	switch command {
	case "method-add":
		return a.methodAdd(ctx, owner, args)
	case "method-list":
		return a.methodList(ctx, owner)
	case "method-default":
		return a.methodDefault(ctx, owner, args)
	case "method-rename":
		return a.methodRename(ctx, owner, args)
	case "method-deactivate":
		return a.methodDeactivate(ctx, owner, args)
	case "add":
		return a.add(ctx, owner, args)
	case "list":
		return a.list(ctx, owner)
	case "delete":
		return a.delete(ctx, owner, args)
	case "transfer":
		return a.transfer(ctx, owner, args)
	case "transfer-delete":
		return a.transferDelete(ctx, owner, args)
	case "budget-add":
		return a.budgetAdd(ctx, owner, args)
	case "budget-list":
		return a.budgetList(ctx, owner)
	case "budget-update":
		return a.budgetUpdate(ctx, owner, args)
	case "budget-delete":
		return a.budgetDelete(ctx, owner, args)
	case "balance":
		return a.balance(ctx, owner, args)
	case "rate-set":
		return a.rateSet(ctx, args)
	case "rate-get":
		return a.rateGet(ctx, args)
	case "base-set":
		return a.baseSet(ctx, owner, args)
	case "base-get":
		return a.baseGet(ctx, owner)
	case "refresh":
		return a.refresh(ctx, args)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) methodAdd(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("method-add", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	currency := fs.String("currency", "", "ISO 4217 currency code")
	kind := fs.String("kind", "debit", "debit, credit, cash, savings or other")
	color := fs.String("color", "", "display color")
	makeDefault := fs.Bool("default", false, "make this the default method")
	fs.Parse(args)

	pm, err := a.methods.Create(ctx, owner, services.CreatePaymentMethodInput{
		Name:        *name,
		Currency:    *currency,
		Kind:        core.PaymentMethodKind(*kind),
		Color:       *color,
		MakeDefault: *makeDefault,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created payment method %s (%s, %s)\n", pm.ID, pm.Name, pm.Currency)

	// A new foreign-currency method means a new pair to keep fresh.
	base, berr := a.settings.BaseCurrency(ctx, owner)
	if berr == nil && pm.Currency != base {
		a.publishRefresh(ctx, pm.Currency, base)
	}
	return nil
}

func (a *app) methodList(ctx context.Context, owner string) error {
	list, err := a.methods.List(ctx, owner)
	if err != nil {
		return err
	}
	for _, pm := range list {
		marker := " "
		if pm.IsDefault {
			marker = "*"
		}
		status := "active"
		if !pm.IsActive {
			status = "inactive"
		}
		fmt.Printf("%s %-36s  %-20s  %-3s  %-8s  %s\n",
			marker, pm.ID, pm.Name, pm.Currency, pm.Kind, status)
	}
	return nil
}

func (a *app) methodDefault(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("method-default", flag.ExitOnError)
	id := fs.String("id", "", "payment method id")
	fs.Parse(args)
	return a.methods.SetDefault(ctx, owner, *id)
}

func (a *app) methodRename(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("method-rename", flag.ExitOnError)
	id := fs.String("id", "", "payment method id")
	name := fs.String("name", "", "new display name")
	fs.Parse(args)
	return a.methods.Rename(ctx, owner, *id, *name)
}

func (a *app) methodDeactivate(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("method-deactivate", flag.ExitOnError)
	id := fs.String("id", "", "payment method id")
	fs.Parse(args)
	return a.methods.Deactivate(ctx, owner, *id)
}

func (a *app) add(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	typ := fs.String("type", "expense", "income or expense")
	amount := fs.String("amount", "", "amount in the method's currency")
	category := fs.String("category", "", "category id")
	method := fs.String("method", "", "payment method id")
	date := fs.String("date", "", "date (YYYY-MM-DD, default today)")
	desc := fs.String("desc", "", "description")
	tags := fs.String("tags", "", "comma-separated tag ids")
	rate := fs.String("rate", "", "explicit exchange rate")
	fs.Parse(args)

	amt, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	day, err := parseDate(*date)
	if err != nil {
		return err
	}

	in := services.TransactionInput{
		Type:            core.TransactionType(*typ),
		Amount:          amt,
		Date:            day,
		Description:     *desc,
		CategoryID:      *category,
		TagIDs:          splitTags(*tags),
		PaymentMethodID: *method,
	}
	if *rate != "" {
		r, err := decimal.NewFromString(*rate)
		if err != nil {
			return fmt.Errorf("parse rate: %w", err)
		}
		in.ExchangeRate = &r
	}

	res, err := a.ledger.Create(ctx, owner, in)
	if err != nil {
		return err
	}
	printTransaction(res.Transaction)
	if res.RateStale {
		fmt.Println("warning: conversion used a stale exchange rate")
	}
	return nil
}

func (a *app) list(ctx context.Context, owner string) error {
	list, err := a.ledger.List(ctx, owner)
	if err != nil {
		return err
	}
	for i := range list {
		printTransaction(&list[i])
	}
	return nil
}

func (a *app) delete(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "transaction id")
	fs.Parse(args)
	return a.ledger.Delete(ctx, owner, *id)
}

func (a *app) transfer(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	from := fs.String("from", "", "source payment method id")
	to := fs.String("to", "", "destination payment method id")
	amount := fs.String("amount", "", "amount in the source currency")
	date := fs.String("date", "", "date (YYYY-MM-DD, default today)")
	desc := fs.String("desc", "", "description")
	fs.Parse(args)

	amt, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	day, err := parseDate(*date)
	if err != nil {
		return err
	}

	res, err := a.transfers.Create(ctx, owner, services.TransferInput{
		SourceID:    *from,
		DestID:      *to,
		Amount:      amt,
		Date:        day,
		Description: *desc,
	})
	if err != nil {
		return err
	}
	printTransaction(res.Withdrawal)
	printTransaction(res.Deposit)
	if res.RateStale {
		fmt.Println("warning: conversion used a stale exchange rate")
	}
	return nil
}

func (a *app) transferDelete(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("transfer-delete", flag.ExitOnError)
	id := fs.String("id", "", "either leg's transaction id")
	fs.Parse(args)
	return a.transfers.Delete(ctx, owner, *id)
}

func (a *app) budgetAdd(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("budget-add", flag.ExitOnError)
	category := fs.String("category", "", "category id")
	tag := fs.String("tag", "", "tag id")
	amount := fs.String("amount", "", "monthly limit")
	period := fs.String("period", "", "month (YYYY-MM)")
	fs.Parse(args)

	amt, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	month, err := time.Parse("2006-01", *period)
	if err != nil {
		return fmt.Errorf("parse period %q: %w", *period, err)
	}

	b, err := a.budgets.Create(ctx, owner, services.BudgetInput{
		CategoryID: *category,
		TagID:      *tag,
		Amount:     amt,
		Period:     core.FirstOfMonth(month),
	})
	if err != nil {
		return err
	}
	fmt.Printf("created budget %s (%s, limit %s)\n", b.ID, b.Period.Format("2006-01"), b.Amount)
	return nil
}

func (a *app) budgetList(ctx context.Context, owner string) error {
	list, err := a.budgets.List(ctx, owner)
	if err != nil {
		return err
	}
	for i := range list {
		b := &list[i]
		target := "category " + b.CategoryID
		if b.TagID != "" {
			target = "tag " + b.TagID
		}
		p, err := a.budgets.Progress(ctx, b)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%-36s  %s  %-24s  %s / %s (%s%%)",
			b.ID, b.Period.Format("2006-01"), target, p.SpentAmount, b.Amount, p.SpentPercentage)
		if p.IsOverspent {
			line += "  OVERSPENT"
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) budgetUpdate(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("budget-update", flag.ExitOnError)
	id := fs.String("id", "", "budget id")
	amount := fs.String("amount", "", "new monthly limit")
	fs.Parse(args)

	amt, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	return a.budgets.UpdateAmount(ctx, owner, *id, amt)
}

func (a *app) budgetDelete(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("budget-delete", flag.ExitOnError)
	id := fs.String("id", "", "budget id")
	fs.Parse(args)
	return a.budgets.Delete(ctx, owner, *id)
}

func (a *app) balance(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	byCurrency := fs.Bool("by-currency", false, "group by payment method currency")
	fs.Parse(args)

	if *byCurrency {
		balances, err := a.balances.BalanceByCurrency(ctx, owner)
		if err != nil {
			return err
		}
		for _, b := range balances {
			fmt.Printf("%s  %s\n", b.Currency, b.Amount)
		}
		return nil
	}

	total, err := a.balances.Balance(ctx, owner)
	if err != nil {
		return err
	}
	base, err := a.settings.BaseCurrency(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", total, base)
	return nil
}

func (a *app) rateSet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rate-set", flag.ExitOnError)
	from := fs.String("from", "", "source currency")
	to := fs.String("to", "", "target currency")
	rate := fs.String("rate", "", "conversion rate")
	date := fs.String("date", "", "date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	value, err := decimal.NewFromString(*rate)
	if err != nil {
		return fmt.Errorf("parse rate: %w", err)
	}
	day, err := parseDate(*date)
	if err != nil {
		return err
	}
	if err := a.cache.Upsert(ctx, *from, *to, value, day, rates.SourceManual); err != nil {
		return err
	}
	fmt.Printf("stored manual rate %s/%s = %s\n", strings.ToUpper(*from), strings.ToUpper(*to), value)
	return nil
}

func (a *app) rateGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rate-get", flag.ExitOnError)
	from := fs.String("from", "", "source currency")
	to := fs.String("to", "", "target currency")
	date := fs.String("date", "", "date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	day, err := parseDate(*date)
	if err != nil {
		return err
	}
	r, err := a.cache.GetRate(ctx, *from, *to, day)
	if err != nil {
		return err
	}
	suffix := ""
	if r.Stale {
		suffix = " (stale)"
	}
	fmt.Printf("%s/%s = %s [%s]%s\n", strings.ToUpper(*from), strings.ToUpper(*to), r.Value, r.Source, suffix)
	return nil
}

func (a *app) baseSet(ctx context.Context, owner string, args []string) error {
	fs := flag.NewFlagSet("base-set", flag.ExitOnError)
	currency := fs.String("currency", "", "ISO 4217 currency code")
	fs.Parse(args)
	return a.settings.SetBaseCurrency(ctx, owner, *currency)
}

func (a *app) baseGet(ctx context.Context, owner string) error {
	base, err := a.settings.BaseCurrency(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Println(base)
	return nil
}

func (a *app) refresh(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	from := fs.String("from", "", "source currency (empty for all pairs)")
	to := fs.String("to", "", "target currency (empty for all pairs)")
	fs.Parse(args)

	if a.cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is not configured")
	}
	a.publishRefresh(ctx, *from, *to)
	return nil
}

// publishRefresh nudges the rates worker. Best effort: a dead broker must
// not fail a ledger command.
func (a *app) publishRefresh(ctx context.Context, from, to string) {
	if a.cfg.AMQPURL == "" {
		return
	}
	client, err := amqp.NewClient(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.cfg.AMQPQueue)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: rate refresh not requested:", err)
		return
	}
	defer client.Close()
	if err := client.PublishRateRefresh(ctx, from, to); err != nil {
		fmt.Fprintln(os.Stderr, "warning: rate refresh not requested:", err)
	}
}

func printTransaction(t *core.Transaction) {
	line := fmt.Sprintf("%-36s  %s  %-8s  %10s", t.ID, t.Date.Format(dateLayout), t.Type, t.Amount)
	if t.NativeAmount != nil {
		line += fmt.Sprintf("  (native %s @ %s)", t.NativeAmount, t.ExchangeRate)
	}
	if t.CategoryID != "" {
		line += "  " + t.CategoryID
	}
	if t.Description != "" {
		line += "  " + t.Description
	}
	fmt.Println(line)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().UTC()
		return core.NewDate(now.Year(), int(now.Month()), now.Day()), nil
	}
	day, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return day, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
