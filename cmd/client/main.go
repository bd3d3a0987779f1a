package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/server"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PrivateKeyEnv is read when -key is not given.
const PrivateKeyEnv = "DARKPOOL_PRIVATE_KEY"

var errUsage = errors.New("usage")

var dial = func(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// session carries the connection and identity a command runs with.
type session struct {
	client *server.Client
	signer *auth.Signer
	caller core.Identity
	out    io.Writer
}

// credentials signs req with the session key, or claims the configured
// caller when no key is set.
func (s *session) credentials(req auth.Signable) error {
	if s.signer != nil {
		return auth.Sign(s.signer, req)
	}
	if s.caller.IsZero() {
		return errors.New("either -key or -caller is required")
	}
	req.SetCaller(s.caller)
	return nil
}

func (s *session) self() core.Identity {
	if s.signer != nil {
		return s.signer.Identity()
	}
	return s.caller
}

type command func(ctx context.Context, s *session, args []string) error

var commands = map[string]command{
	"init-book":   initBook,
	"place":       placeOrder,
	"delegate":    delegateOrder,
	"match":       matchOrders,
	"cancel":      cancelOrder,
	"pause":       pauseMarket,
	"resume":      resumeMarket,
	"get-order":   getOrder,
	"get-book":    getBook,
	"get-trade":   getTrade,
	"list-trades": listTrades,
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("darkpool-client", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	addr := global.String("addr", "localhost:50051", "The server address in the format host:port")
	keyHex := global.String("key", os.Getenv(PrivateKeyEnv), "Hex private key used to sign requests")
	callerHex := global.String("caller", "", "Caller identity for servers running in trusted mode")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if global.NArg() == 0 {
		return errUsage
	}
	name, rest := global.Arg(0), global.Args()[1:]

	if name == "keygen" {
		return keygen(out)
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	s := &session{out: out}
	if *keyHex != "" {
		signer, err := auth.FromPrivateKeyHex(*keyHex)
		if err != nil {
			return err
		}
		s.signer = signer
	}
	if *callerHex != "" {
		caller, err := core.ParseIdentity(*callerHex)
		if err != nil {
			return err
		}
		s.caller = caller
	}

	conn, err := dial(*addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *addr, err)
	}
	defer conn.Close()
	s.client = server.NewClient(conn)

	return cmd(ctx, s, rest)
}

func keygen(out io.Writer) error {
	signer, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "private_key: %s\n", signer.PrivateKeyHex())
	fmt.Fprintf(out, "address:     %s\n", signer.Address().Hex())
	fmt.Fprintf(out, "identity:    %s\n", signer.Identity().Hex())
	return nil
}

// identityFlag is a flag.Value for core.Identity.
type identityFlag struct{ id *core.Identity }

func (f identityFlag) String() string {
	if f.id == nil || f.id.IsZero() {
		return ""
	}
	return f.id.Hex()
}

func (f identityFlag) Set(s string) error {
	id, err := core.ParseIdentity(s)
	if err != nil {
		return err
	}
	*f.id = id
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var missing []string
	for _, name := range required {
		if !set[name] {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", errUsage, fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func initBook(ctx context.Context, s *session, args []string) error {
	req := &core.InitializeOrderbookRequest{}
	fs := newFlagSet("init-book")
	fs.Var(identityFlag{&req.Market}, "market", "Market identity")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	if err := s.credentials(req); err != nil {
		return err
	}
	ob, err := s.client.InitializeOrderbook(ctx, req)
	if err != nil {
		return err
	}
	printBook(s.out, ob)
	return nil
}

func placeOrder(ctx context.Context, s *session, args []string) error {
	req := &core.PlaceOrderRequest{}
	var side string
	fs := newFlagSet("place")
	fs.Var(identityFlag{&req.Market}, "market", "Market identity")
	fs.Uint64Var(&req.OrderID, "id", 0, "Order id, unique per owner")
	fs.StringVar(&side, "side", "", "buy or sell")
	fs.Uint64Var(&req.Amount, "amount", 0, "Order amount")
	fs.Uint64Var(&req.Price, "price", 0, "Limit price")
	if err := parse(fs, args, "market", "id", "side", "amount", "price"); err != nil {
		return err
	}
	parsed, err := core.ParseSide(side)
	if err != nil {
		return err
	}
	req.Side = parsed
	if err := s.credentials(req); err != nil {
		return err
	}
	order, err := s.client.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	printOrder(s.out, order)
	return nil
}

func delegateOrder(ctx context.Context, s *session, args []string) error {
	req := &core.DelegateOrderRequest{}
	var validFor time.Duration
	var commitFreq uint
	fs := newFlagSet("delegate")
	fs.Uint64Var(&req.Order.OrderID, "id", 0, "Order id")
	fs.DurationVar(&validFor, "valid-for", time.Hour, "How long the delegation stays valid")
	fs.UintVar(&commitFreq, "commit-freq-ms", 30000, "Executor commit frequency in milliseconds")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}
	req.Order.Owner = s.self()
	req.ValidUntil = time.Now().Add(validFor).Unix()
	req.CommitFreqMs = uint32(commitFreq)
	if err := s.credentials(req); err != nil {
		return err
	}
	order, err := s.client.DelegateOrder(ctx, req)
	if err != nil {
		return err
	}
	printOrder(s.out, order)
	return nil
}

func matchOrders(ctx context.Context, s *session, args []string) error {
	req := &core.MatchOrdersRequest{}
	fs := newFlagSet("match")
	fs.Var(identityFlag{&req.Market}, "market", "Market identity")
	fs.Uint64Var(&req.TradeID, "trade", 0, "Trade id")
	fs.Var(identityFlag{&req.Buy.Owner}, "buyer", "Buy order owner")
	fs.Uint64Var(&req.Buy.OrderID, "buy-id", 0, "Buy order id")
	fs.Var(identityFlag{&req.Sell.Owner}, "seller", "Sell order owner")
	fs.Uint64Var(&req.Sell.OrderID, "sell-id", 0, "Sell order id")
	if err := parse(fs, args, "market", "trade", "buyer", "buy-id", "seller", "sell-id"); err != nil {
		return err
	}
	if err := s.credentials(req); err != nil {
		return err
	}
	result, err := s.client.MatchOrders(ctx, req)
	if err != nil {
		return err
	}
	printTrades(s.out, []*core.TradeResult{result.Trade})
	printOrder(s.out, result.Buy)
	printOrder(s.out, result.Sell)
	return nil
}

func cancelOrder(ctx context.Context, s *session, args []string) error {
	req := &core.CancelOrderRequest{}
	fs := newFlagSet("cancel")
	fs.Uint64Var(&req.Order.OrderID, "id", 0, "Order id")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}
	req.Order.Owner = s.self()
	if err := s.credentials(req); err != nil {
		return err
	}
	order, err := s.client.CancelOrder(ctx, req)
	if err != nil {
		return err
	}
	printOrder(s.out, order)
	return nil
}

func pauseMarket(ctx context.Context, s *session, args []string) error {
	req := &core.PauseMarketRequest{}
	fs := newFlagSet("pause")
	fs.Var(identityFlag{&req.Market}, "market", "Market identity")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	if err := s.credentials(req); err != nil {
		return err
	}
	ob, err := s.client.PauseMarket(ctx, req)
	if err != nil {
		return err
	}
	printBook(s.out, ob)
	return nil
}

func resumeMarket(ctx context.Context, s *session, args []string) error {
	req := &core.ResumeMarketRequest{}
	fs := newFlagSet("resume")
	fs.Var(identityFlag{&req.Market}, "market", "Market identity")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	if err := s.credentials(req); err != nil {
		return err
	}
	ob, err := s.client.ResumeMarket(ctx, req)
	if err != nil {
		return err
	}
	printBook(s.out, ob)
	return nil
}

func getOrder(ctx context.Context, s *session, args []string) error {
	var key core.OrderKey
	fs := newFlagSet("get-order")
	fs.Var(identityFlag{&key.Owner}, "owner", "Order owner (defaults to the session identity)")
	fs.Uint64Var(&key.OrderID, "id", 0, "Order id")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}
	if key.Owner.IsZero() {
		key.Owner = s.self()
	}
	order, err := s.client.GetOrder(ctx, key)
	if err != nil {
		return err
	}
	printOrder(s.out, order)
	return nil
}

func getBook(ctx context.Context, s *session, args []string) error {
	var market core.Identity
	fs := newFlagSet("get-book")
	fs.Var(identityFlag{&market}, "market", "Market identity")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	ob, err := s.client.GetOrderbook(ctx, market)
	if err != nil {
		return err
	}
	printBook(s.out, ob)
	return nil
}

func getTrade(ctx context.Context, s *session, args []string) error {
	var id uint64
	fs := newFlagSet("get-trade")
	fs.Uint64Var(&id, "id", 0, "Trade id")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}
	trade, err := s.client.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	printTrades(s.out, []*core.TradeResult{trade})
	return nil
}

func listTrades(ctx context.Context, s *session, args []string) error {
	var market core.Identity
	var limit int
	fs := newFlagSet("list-trades")
	fs.Var(identityFlag{&market}, "market", "Market identity")
	fs.IntVar(&limit, "limit", 20, "Maximum number of trades")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	trades, err := s.client.ListTrades(ctx, market, limit)
	if err != nil {
		return err
	}
	printTrades(s.out, trades)
	return nil
}

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

func sideColor(side core.Side) string {
	if side == core.Buy {
		return green(side.String())
	}
	return red(side.String())
}

func statusColor(status core.Status) string {
	switch status {
	case core.Filled:
		return green(status.String())
	case core.Cancelled:
		return faint(status.String())
	default:
		return cyan(status.String())
	}
}

func printBook(out io.Writer, ob *core.Orderbook) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", cyan("Market"), ob.Market.Hex())
	fmt.Fprintf(w, "%s\t%s\n", cyan("Authority"), ob.Authority.Hex())
	fmt.Fprintf(w, "%s\t%d\n", cyan("Orders"), ob.OrderCount)
	fmt.Fprintf(w, "%s\t%d\n", cyan("Trades"), ob.TradeCount)
	paused := green("no")
	if ob.IsPaused {
		paused = red("yes")
	}
	fmt.Fprintf(w, "%s\t%s\n", cyan("Paused"), paused)
	w.Flush()
}

func printOrder(out io.Writer, o *core.Order) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		cyan("Order"), cyan("Side"), cyan("Amount"), cyan("Filled"), cyan("Price"), cyan("Status"))
	fmt.Fprintf(w, "%s/%d\t%s\t%d\t%d\t%d\t%s\n",
		o.Owner.Hex(), o.OrderID, sideColor(o.Side), o.Amount, o.FilledAmount, o.Price, statusColor(o.Status))
	if o.Delegation != nil {
		fmt.Fprintf(w, "%s\t%s until %s\n", faint("delegated"),
			o.Delegation.Validator.Hex(), time.Unix(o.Delegation.ValidUntil, 0).UTC().Format(time.RFC3339))
	}
	w.Flush()
}

func printTrades(out io.Writer, trades []*core.TradeResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		cyan("Trade"), cyan("Amount"), cyan("Price"), cyan("Buyer"), cyan("Seller"), cyan("Executed"))
	for _, t := range trades {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s/%d\t%s/%d\t%s\n",
			t.TradeID, t.Amount, t.Price,
			t.Buyer.Hex(), t.BuyOrderID, t.Seller.Hex(), t.SellOrderID,
			time.Unix(t.ExecutedAt, 0).UTC().Format(time.RFC3339))
	}
	w.Flush()
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: darkpool-client [-addr host:port] [-key hex | -caller id] <command> [flags]")
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  keygen")
	fmt.Fprintln(out, "  init-book   -market ID")
	fmt.Fprintln(out, "  place       -market ID -id N -side buy|sell -amount N -price N")
	fmt.Fprintln(out, "  delegate    -id N [-valid-for 1h] [-commit-freq-ms 30000]")
	fmt.Fprintln(out, "  match       -market ID -trade N -buyer ID -buy-id N -seller ID -sell-id N")
	fmt.Fprintln(out, "  cancel      -id N")
	fmt.Fprintln(out, "  pause       -market ID")
	fmt.Fprintln(out, "  resume      -market ID")
	fmt.Fprintln(out, "  get-order   [-owner ID] -id N")
	fmt.Fprintln(out, "  get-book    -market ID")
	fmt.Fprintln(out, "  get-trade   -id N")
	fmt.Fprintln(out, "  list-trades -market ID [-limit N]")
	fmt.Fprintln(out, "\nExamples:")
	fmt.Fprintln(out, "  darkpool-client keygen")
	fmt.Fprintln(out, "  DARKPOOL_PRIVATE_KEY=... darkpool-client place -market 0x..f1 -id 1 -side sell -amount 10 -price 100")
}
