package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/mcclellann/prestaya/pkg/amortization"
	"github.com/mcclellann/prestaya/pkg/format"
	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/mcclellann/prestaya/pkg/settlement"
	"github.com/shopspring/decimal"
)

// --- scheduleCmd ---

type scheduleCmd struct {
	out io.Writer

	principal string
	rate      string
	n         int
	frequency string
	system    string
	start     string
	preserve  bool
	asJSON    bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "prints the installment schedule of a loan" }
func (*scheduleCmd) Usage() string {
	return `schedule -principal <amount> -rate <percent> -n <installments> [-frequency monthly] [-system declining_balance] [-start YYYY-MM-DD]

Computes the amortization schedule for the given terms. The rate is the percent charged per
month; weekly and biweekly loans use a quarter and a half of it per period.
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.principal, "principal", "", "Amount lent.")
	f.StringVar(&c.rate, "rate", "0", "Interest rate in percent per month.")
	f.IntVar(&c.n, "n", 0, "Number of installments.")
	f.StringVar(&c.frequency, "frequency", string(models.FrequencyMonthly), "weekly, biweekly or monthly.")
	f.StringVar(&c.system, "system", string(models.SystemDecliningBalance), "declining_balance or flat.")
	f.StringVar(&c.start, "start", "", "Disbursement date, defaults to today.")
	f.BoolVar(&c.preserve, "preserve-drift", false, "Keep the rounding residual instead of folding it into the last installment.")
	f.BoolVar(&c.asJSON, "json", false, "Print the schedule as JSON.")
}

func (c *scheduleCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	principal, err := decimal.NewFromString(c.principal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -principal %q\n", c.principal)
		return subcommands.ExitUsageError
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -rate %q\n", c.rate)
		return subcommands.ExitUsageError
	}
	start, err := dateOrToday(c.start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	terms := models.LoanTerms{
		Principal:            principal,
		AnnualRatePercent:    rate,
		NumberOfInstallments: c.n,
		Frequency:            models.Frequency(c.frequency),
		System:               models.AmortizationSystem(c.system),
		StartDate:            start,
	}
	policy := amortization.AbsorbResidual
	if c.preserve {
		policy = amortization.PreserveDrift
	}
	rows, err := amortization.ComputeSchedule(terms, amortization.WithResidual(policy))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tDue\tAmount\tInterest\tPrincipal\tBalance\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Number, format.Date(r.DueDate), format.Amount(r.Amount),
			format.Amount(r.Interest), format.Amount(r.Principal), format.Amount(r.BalanceAfter))
	}
	tw.Flush()

	sum := amortization.Totals(rows)
	fmt.Fprintf(c.out, "\nTotal to pay %s, interest %s, last due %s\n",
		format.Currency(sum.Amount), format.Currency(sum.Interest), format.Date(sum.EndDate))
	return subcommands.ExitSuccess
}

// --- lateFeeCmd ---

type lateFeeCmd struct {
	out io.Writer

	amount string
	due    string
	asOf   string
	grace  int
	rate   string
}

func (*lateFeeCmd) Name() string     { return "latefee" }
func (*lateFeeCmd) Synopsis() string { return "computes the late fee of an installment" }
func (*lateFeeCmd) Usage() string {
	return `latefee -amount <installment amount> -due YYYY-MM-DD [-asof YYYY-MM-DD] [-grace days] [-rate percent]

Prints the days late, the fee and the suggested total for an installment paid on -asof.
`
}

func (c *lateFeeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.amount, "amount", "", "Installment amount.")
	f.StringVar(&c.due, "due", "", "Due date of the installment.")
	f.StringVar(&c.asOf, "asof", "", "Payment date, defaults to today.")
	f.IntVar(&c.grace, "grace", 0, "Grace days before fees accrue.")
	f.StringVar(&c.rate, "rate", "0", "Daily late fee in percent of the amount.")
}

func (c *lateFeeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -amount %q\n", c.amount)
		return subcommands.ExitUsageError
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil || rate.IsNegative() {
		fmt.Fprintf(os.Stderr, "Error: invalid -rate %q\n", c.rate)
		return subcommands.ExitUsageError
	}
	if c.grace < 0 {
		fmt.Fprintln(os.Stderr, "Error: -grace must not be negative")
		return subcommands.ExitUsageError
	}
	due, err := format.ParseDate(c.due)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	asOf, err := dateOrToday(c.asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	inst := models.Installment{Amount: amount, DueDate: due, Status: models.InstallmentStatusPending}
	cfg := models.LateFeeConfig{GraceDays: c.grace, DailyLateRatePercent: rate}
	q := settlement.NewEngine(nil).Quote(inst, cfg, asOf)

	fmt.Fprintf(c.out, "Days late: %s\nLate fee: %s\nSuggested total: %s\n",
		strconv.Itoa(q.DaysLate), format.Amount(q.LateFee), format.Amount(q.SuggestedTotal))
	return subcommands.ExitSuccess
}

// dateOrToday parses v, or returns today on the host's local calendar.
func dateOrToday(v string) (time.Time, error) {
	if v == "" {
		return settlement.BusinessDay(time.Now(), time.Local), nil
	}
	return format.ParseDate(v)
}
