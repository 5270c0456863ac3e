// Command cartctl drives the storefront cart and checkout from a terminal.
// Results are printed to stdout as JSON; logs go to stderr.
//
// Exit code 0 = ok, 1 = operation failed, 2 = usage error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/app"
	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

const usage = `usage: cartctl <command> [flags]

commands:
  show                       print the active cart
  add -product ID [-qty N]   add a product
  qty -product ID -delta N   change a line quantity
  rm -product ID             remove a line
  summary [-rule cart|checkout]
  login -token TOKEN         sign in and merge the device cart
  logout                     sign out
  checkout -details D -city C -phone P [-method cash|card]
  events [-n N] [-topic T]   list recent journalled events (redis only)
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "cartctl: %v\n", err)
		return 2
	}
	logger := obs.NewLoggerTo(stderr, "console", envOrDefault("CARTCTL_LOG_LEVEL", "warn"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "cartctl: %v\n", err)
		return 1
	}
	defer deps.Close()

	out, err := dispatch(ctx, deps, cmd, rest, stderr)
	if err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "cartctl: %s\n\n%s", usageErr.msg, usage)
			return 2
		}
		return report(stderr, err)
	}
	if out != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "cartctl: %v\n", err)
			return 1
		}
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func dispatch(ctx context.Context, deps *app.Dependencies, cmd string, args []string, stderr io.Writer) (any, error) {
	svc := deps.Storefront
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch cmd {
	case "show":
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		c, err := svc.GetCart(ctx)
		return cartView(c), err

	case "add":
		product := fs.String("product", "", "product id")
		title := fs.String("title", "", "product title")
		price := fs.String("price", "0", "unit price")
		qty := fs.Int("qty", 1, "quantity to add")
		color := fs.String("color", "", "color variant")
		size := fs.String("size", "", "size variant")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(*price))
		if err != nil || amount.IsNegative() {
			return nil, usageError{"-price must be a non-negative amount"}
		}
		item := cart.LineItem{ProductID: strings.TrimSpace(*product), Title: *title, Price: amount, Color: *color, Size: *size}
		c, err := svc.AddItem(ctx, item, *qty)
		return cartView(c), err

	case "qty":
		product := fs.String("product", "", "product id")
		delta := fs.Int("delta", 0, "quantity change")
		color := fs.String("color", "", "color variant")
		size := fs.String("size", "", "size variant")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		if strings.TrimSpace(*product) == "" {
			return nil, usageError{"-product is required"}
		}
		c, err := svc.UpdateQuantity(ctx, cart.Key{ProductID: strings.TrimSpace(*product), Color: *color, Size: *size}, *delta)
		return cartView(c), err

	case "rm":
		product := fs.String("product", "", "product id")
		color := fs.String("color", "", "color variant")
		size := fs.String("size", "", "size variant")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		if strings.TrimSpace(*product) == "" {
			return nil, usageError{"-product is required"}
		}
		c, err := svc.RemoveItem(ctx, cart.Key{ProductID: strings.TrimSpace(*product), Color: *color, Size: *size})
		return cartView(c), err

	case "summary":
		name := fs.String("rule", app.RuleCart, "shipping rule: cart or checkout")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		rule, ok := deps.Rules[strings.ToLower(*name)]
		if !ok {
			return nil, usageError{"-rule must be cart or checkout"}
		}
		return svc.GetSummary(ctx, rule)

	case "login":
		token := fs.String("token", os.Getenv("STOREFRONT_TOKEN"), "bearer credential")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		c, err := svc.SignIn(ctx, *token)
		return cartView(c), err

	case "logout":
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		svc.SignOut(ctx)
		return map[string]any{"mode": svc.Mode()}, nil

	case "checkout":
		details := fs.String("details", "", "street details")
		city := fs.String("city", "", "city")
		phone := fs.String("phone", "", "contact phone")
		method := fs.String("method", string(commerce.PaymentCash), "payment method: cash or card")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		if _, err := svc.EnterCheckout(ctx); err != nil {
			return nil, err
		}
		addr := commerce.ShippingAddress{Details: *details, City: *city, Phone: *phone}
		result, err := svc.SubmitCheckout(ctx, addr, commerce.PaymentMethod(strings.ToLower(*method)))
		if err != nil {
			return map[string]any{"checkout": svc.CheckoutView(ctx)}, err
		}
		return map[string]any{"order": result, "checkout": svc.CheckoutView(ctx)}, nil

	case "events":
		n := fs.Int64("n", 20, "number of events")
		topic := fs.String("topic", "", "only show this topic")
		if err := fs.Parse(args); err != nil {
			return nil, usageError{err.Error()}
		}
		if *topic != "" && !slices.Contains(events.DefaultTopics(), *topic) {
			return nil, usageError{fmt.Sprintf("unknown topic %q", *topic)}
		}
		journal, ok := deps.Bus.Store.(events.RedisJournal)
		if !ok {
			return nil, usageError{"events requires REDIS_URL"}
		}
		recent, err := journal.Recent(ctx, *n)
		if err != nil {
			return nil, err
		}
		if *topic != "" {
			recent = slices.DeleteFunc(recent, func(ev events.Event) bool { return ev.Topic != *topic })
		}
		return map[string]any{"events": recent}, nil
	}
	return nil, usageError{fmt.Sprintf("unknown command %q", cmd)}
}

func cartView(c cart.Cart) map[string]any {
	items := c.Items
	if items == nil {
		items = []cart.LineItem{}
	}
	return map[string]any{"items": items, "itemCount": cart.Count(c)}
}

func report(stderr io.Writer, err error) int {
	if appErr, ok := common.AsAppError(err); ok {
		fmt.Fprintf(stderr, "cartctl: %s (%s)\n", appErr.Message, appErr.Code)
		if fields, ok := appErr.Details.(map[string]string); ok {
			for field, msg := range fields {
				fmt.Fprintf(stderr, "  %s: %s\n", field, msg)
			}
		}
		return 1
	}
	fmt.Fprintf(stderr, "cartctl: %v\n", err)
	return 1
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
