package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DongNguyen06/lib-v2/internal/model"
	grpcserver "github.com/DongNguyen06/lib-v2/internal/server/grpc"
)

type caller interface {
	Call(ctx context.Context, method string, args map[string]any) (*structpb.Struct, error)
}

type connectFunc func(ctx context.Context) (caller, func(), error)

type app struct {
	conn    connOpts
	timeout time.Duration
	asJSON  bool
	connect connectFunc
	now     func() time.Time
}

func (a *app) dialWithToken(ctx context.Context) (caller, func(), error) {
	tok, err := loadToken()
	if err != nil {
		return nil, nil, err
	}
	cc, cli, err := dial(ctx, a.conn, tok)
	if err != nil {
		return nil, nil, err
	}
	return cli, func() { _ = cc.Close() }, nil
}

func (a *app) invoke(cmd *cobra.Command, method string, args map[string]any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()
	c, closeFn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	out, err := c.Call(ctx, method, args)
	if err != nil {
		return err
	}
	a.print(cmd.OutOrStdout(), out.AsMap())
	return nil
}

func (a *app) print(w io.Writer, m map[string]any) {
	if a.asJSON {
		printJSON(w, m)
		return
	}
	if msg, ok := m["message"].(string); ok {
		fmt.Fprintln(w, msg)
		delete(m, "message")
	}
	if len(m) > 0 {
		printJSON(w, m)
	}
}

// newRootCmd builds the command tree; connect defaults to dialing the
// server with the saved token.
func newRootCmd(connect connectFunc) *cobra.Command {
	a := &app{now: time.Now}
	a.connect = connect
	if a.connect == nil {
		a.connect = a.dialWithToken
	}

	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "Library lending client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.conn.addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&a.conn.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&a.conn.skipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&a.conn.plaintext, "plaintext", false, "connect without TLS")
	pf.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-call timeout")
	pf.BoolVar(&a.asJSON, "json", false, "print the raw reply")

	root.AddCommand(
		versionCmd(),
		tokenCmd(a),
		bookCmd(a),
		borrowCmd(a),
		directCmd(a),
		idCmd(a, "pickup <borrow-id>", "Confirm pickup of a pending request (staff)", "ConfirmPickup", "borrow_id"),
		idCmd(a, "cancel <borrow-id>", "Cancel a pending request", "CancelBorrow", "borrow_id"),
		idCmd(a, "reject <borrow-id>", "Reject a pending request (staff)", "RejectBorrow", "borrow_id"),
		renewCmd(a),
		returnCmd(a),
		reserveCmd(a),
		idCmd(a, "unreserve <reservation-id>", "Cancel a reservation", "CancelReservation", "reservation_id"),
		idCmd(a, "expire <reservation-id>", "Expire a ready hold (staff)", "ExpireReservation", "reservation_id"),
		payCmd(a),
		sweepCmd(a),
		notificationsCmd(a),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lendctl %s (%s)\n", version, buildDate)
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	var (
		user, role, key string
		ttl             time.Duration
		show            bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign and save an access token",
		Long:  "Signs an HS256 access token with the server key and saves it for later commands.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = os.Getenv("JWT_KEY")
			}
			if key == "" {
				return errors.New("missing signing key (--key or JWT_KEY)")
			}
			id := uuid.Must(uuid.NewV4())
			if user != "" {
				var err error
				if id, err = uuid.FromString(user); err != nil {
					return fmt.Errorf("bad --user: %w", err)
				}
			}
			now := a.now()
			tok, err := grpcserver.IssueToken([]byte(key), id, model.Role(role), ttl, now)
			if err != nil {
				return err
			}
			if err := saveToken(tokenFile{AccessToken: tok, UserID: id.String(), ExpiresAt: now.Add(ttl)}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s as %s until %s\n", id, role, now.Add(ttl).Format(time.RFC3339))
			if show {
				fmt.Fprintln(out, tok)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&user, "user", "", "user id (default: new id)")
	f.StringVar(&role, "role", string(model.RoleUser), "role: user, staff or admin")
	f.StringVar(&key, "key", "", "signing key (default: $JWT_KEY)")
	f.DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	f.BoolVar(&show, "print", false, "print the token")
	return cmd
}

func bookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage inventory"}

	var (
		isbn, title string
		copies      int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a title (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.invoke(cmd, "RegisterBook", map[string]any{"isbn": isbn, "title": title, "copies": copies})
		},
	}
	add.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().IntVar(&copies, "copies", 1, "number of copies")
	_ = add.MarkFlagRequired("isbn")
	_ = add.MarkFlagRequired("title")

	var delta int
	adjust := &cobra.Command{
		Use:   "adjust <book-id>",
		Short: "Change available copies (staff)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, "AdjustInventory", map[string]any{"book_id": args[0], "delta": delta})
		},
	}
	adjust.Flags().IntVar(&delta, "delta", 0, "copies to add (negative to remove)")

	cmd.AddCommand(add, adjust)
	return cmd
}

// forUser adds user_id when staff act for someone else.
func forUser(args map[string]any, user string) map[string]any {
	if user != "" {
		args["user_id"] = user
	}
	return args
}

func borrowCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "borrow <book-id>",
		Short: "Request a book for pickup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, "CreateBorrow", forUser(map[string]any{"book_id": args[0]}, user))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "borrow for this user (staff)")
	return cmd
}

func directCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "direct <book-id>",
		Short: "Issue a book at the counter (staff)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, "DirectBorrow", map[string]any{"book_id": args[0], "user_id": user})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "borrower id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func idCmd(a *app, use, short, method, field string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, method, map[string]any{field: args[0]})
		},
	}
}

func renewCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "renew <borrow-id>",
		Short: "Extend the due date of a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"borrow_id": args[0]}
			if days != 0 {
				req["days"] = days
			}
			return a.invoke(cmd, "RenewBorrow", req)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "extension in days (default: server setting)")
	return cmd
}

func returnCmd(a *app) *cobra.Command {
	var isbn, condition, value, paid string
	cmd := &cobra.Command{
		Use:   "return [borrow-id]",
		Short: "Check a book in and charge fees (staff)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"condition": condition}
			switch {
			case len(args) == 1:
				req["borrow_id"] = args[0]
			case isbn != "":
				req["isbn"] = isbn
			default:
				return errors.New("need a borrow id or --isbn")
			}
			if value != "" {
				req["book_value"] = value
			}
			if paid != "" {
				req["fine_paid_now"] = paid
			}
			return a.invoke(cmd, "ReturnBorrow", req)
		},
	}
	f := cmd.Flags()
	f.StringVar(&isbn, "isbn", "", "find the loan by ISBN")
	f.StringVar(&condition, "condition", string(model.ConditionGood), "good, minor_damage, major_damage or lost")
	f.StringVar(&value, "value", "", "book value in VND")
	f.StringVar(&paid, "paid", "", "amount paid at the counter in VND")
	return cmd
}

func reserveCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "reserve <book-id>",
		Short: "Join the waitlist of an unavailable book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, "CreateReservation", forUser(map[string]any{"book_id": args[0]}, user))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "reserve for this user (staff)")
	return cmd
}

func payCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "pay <amount>",
		Short: "Pay outstanding fines (VND)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd, "PayFine", forUser(map[string]any{"amount": args[0]}, user))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "record a payment for this user (staff)")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:       "sweep [all|pickups|holds|due|overdue]",
		Short:     "Run maintenance sweeps (staff)",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"all", "pickups", "holds", "due", "overdue"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "all"
			if len(args) == 1 {
				kind = args[0]
			}
			req := map[string]any{"sweep": kind}
			if days != 0 {
				req["window_days"] = days
			}
			return a.invoke(cmd, "RunSweep", req)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "due reminder window in days (default: server setting)")
	return cmd
}

func notificationsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show recent notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.invoke(cmd, "ListNotifications", map[string]any{"limit": limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "how many to show")
	return cmd
}
