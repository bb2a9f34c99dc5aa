// Package grpcserver exposes the lending engine over gRPC.
//
// Messages are google.protobuf.Struct; field names are snake_case and ids,
// timestamps (RFC 3339) and VND amounts travel as strings.
package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DongNguyen06/lib-v2/internal/convert"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lending.v1.Lending"

// NotificationLister reads a user's inbox.
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error)
}

// Services are the lending operations served over gRPC.
type Services struct {
	Inventory    service.InventoryService
	Reservations service.ReservationService
	Borrows      service.BorrowService
	Fines        service.FineService
	Sweeps       service.SweepService
}

// FromLending exposes every service of l.
func FromLending(l *service.Lending) Services {
	return Services{
		Inventory:    l.Inventory,
		Reservations: l.Reservations,
		Borrows:      l.Borrows,
		Fines:        l.Fines,
		Sweeps:       l.Sweeps,
	}
}

// Server wires services into gRPC handlers.
type Server struct {
	svc   Services
	notes NotificationLister
	log   *zap.Logger
}

// New constructs the handler set. notes may be nil, in which case
// ListNotifications is unimplemented.
func New(svc Services, notes NotificationLister, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, notes: notes, log: log}
}

// Register adds the lending service to gs.
func Register(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}

type lendingServer interface{ lending() }

func (*Server) lending() {}

type handlerFunc func(s *Server, ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error)

func method(name string, h handlerFunc) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	call := func(srv any, ctx context.Context, req any) (any, error) {
		s := srv.(*Server)
		p := PrincipalFromCtx(ctx)
		if !p.IsAuthenticated() {
			return nil, status.Error(codes.Unauthenticated, "Authentication required")
		}
		return h(s, ctx, p, convert.FromProto(req.(*structpb.Struct)))
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req)
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*lendingServer)(nil),
	Methods: []grpc.MethodDesc{
		method("RegisterBook", (*Server).registerBook),
		method("AdjustInventory", (*Server).adjustInventory),
		method("CreateBorrow", (*Server).createBorrow),
		method("ConfirmPickup", (*Server).confirmPickup),
		method("DirectBorrow", (*Server).directBorrow),
		method("RenewBorrow", (*Server).renewBorrow),
		method("CancelBorrow", (*Server).cancelBorrow),
		method("RejectBorrow", (*Server).rejectBorrow),
		method("ReturnBorrow", (*Server).returnBorrow),
		method("CreateReservation", (*Server).createReservation),
		method("CancelReservation", (*Server).cancelReservation),
		method("ExpireReservation", (*Server).expireReservation),
		method("PayFine", (*Server).payFine),
		method("RunSweep", (*Server).runSweep),
		method("ListNotifications", (*Server).listNotifications),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lending/v1/lending.proto",
}

func requireStaff(p *model.Principal) error {
	if !p.Role.CanApproveBorrows() {
		return status.Error(codes.PermissionDenied, "Staff only")
	}
	return nil
}

// subject returns the user an operation acts for: the caller, or the
// user_id field when staff act on someone's behalf.
func subject(p *model.Principal, in convert.Args) (uuid.UUID, error) {
	id, err := in.OptUUID("user_id", p.UserID)
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if id != p.UserID && !p.Role.CanApproveBorrows() {
		return uuid.Nil, status.Error(codes.PermissionDenied, "You can only act for yourself")
	}
	return id, nil
}

func (s *Server) idArg(in convert.Args, key string) (uuid.UUID, error) {
	id, err := in.UUID(key)
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return id, nil
}

// --- Inventory ---

func (s *Server) registerBook(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if !p.Role.CanConfigureSystem() {
		return nil, status.Error(codes.PermissionDenied, "Admin only")
	}
	copies, err := in.Int("copies", 0)
	if err != nil {
		return nil, s.toStatus("register book", err)
	}
	b, err := s.svc.Inventory.RegisterBook(ctx, in.String("isbn"), in.String("title"), copies)
	if err != nil {
		return nil, s.toStatus("register book", err)
	}
	return convert.Reply("Book added", map[string]any{"book": convert.ToProtoBook(*b)})
}

func (s *Server) adjustInventory(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	bookID, err := s.idArg(in, "book_id")
	if err != nil {
		return nil, err
	}
	delta, err := in.Int("delta", 0)
	if err != nil {
		return nil, s.toStatus("adjust inventory", err)
	}
	b, err := s.svc.Inventory.AdjustAvailable(ctx, bookID, delta)
	if err != nil {
		return nil, s.toStatus("adjust inventory", err)
	}
	return convert.Reply("", map[string]any{"book": convert.ToProtoBook(*b)})
}

// --- Borrows ---

func (s *Server) createBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	userID, err := subject(p, in)
	if err != nil {
		return nil, err
	}
	bookID, err := s.idArg(in, "book_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Borrows.Create(ctx, userID, bookID)
	if err != nil {
		return nil, s.toStatus("create borrow", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) confirmPickup(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	id, err := s.idArg(in, "borrow_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Borrows.ConfirmPickup(ctx, id)
	if err != nil {
		return nil, s.toStatus("confirm pickup", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) directBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	userID, err := s.idArg(in, "user_id")
	if err != nil {
		return nil, err
	}
	bookID, err := s.idArg(in, "book_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Borrows.DirectBorrow(ctx, userID, bookID)
	if err != nil {
		return nil, s.toStatus("direct borrow", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) renewBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	id, err := s.idArg(in, "borrow_id")
	if err != nil {
		return nil, err
	}
	days, err := in.Int("days", 0)
	if err != nil {
		return nil, s.toStatus("renew borrow", err)
	}
	res, err := s.svc.Borrows.Renew(ctx, p, id, days)
	if err != nil {
		return nil, s.toStatus("renew borrow", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) cancelBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	id, err := s.idArg(in, "borrow_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Borrows.Cancel(ctx, p, id)
	if err != nil {
		return nil, s.toStatus("cancel borrow", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) rejectBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	id, err := s.idArg(in, "borrow_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Borrows.Reject(ctx, id)
	if err != nil {
		return nil, s.toStatus("reject borrow", err)
	}
	return convert.ToProtoBorrowResult(res)
}

func (s *Server) returnBorrow(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	var (
		req service.ReturnRequest
		err error
	)
	if in.Has("borrow_id") {
		if req.BorrowID, err = s.idArg(in, "borrow_id"); err != nil {
			return nil, err
		}
	} else if req.ISBN = in.String("isbn"); req.ISBN == "" {
		return nil, status.Error(codes.InvalidArgument, "borrow_id or isbn is required")
	}
	if req.Condition, err = in.Condition("condition"); err != nil {
		return nil, s.toStatus("return borrow", err)
	}
	if req.BookValue, err = in.Decimal("book_value"); err != nil {
		return nil, s.toStatus("return borrow", err)
	}
	if req.FinePaidNow, err = in.Decimal("fine_paid_now"); err != nil {
		return nil, s.toStatus("return borrow", err)
	}
	res, err := s.svc.Borrows.Return(ctx, req)
	if err != nil {
		return nil, s.toStatus("return borrow", err)
	}
	return convert.ToProtoReturnResult(res)
}

// --- Reservations ---

func (s *Server) createReservation(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	userID, err := subject(p, in)
	if err != nil {
		return nil, err
	}
	bookID, err := s.idArg(in, "book_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Reservations.Create(ctx, userID, bookID)
	if err != nil {
		return nil, s.toStatus("create reservation", err)
	}
	return convert.ToProtoReservationResult(res)
}

func (s *Server) cancelReservation(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	id, err := s.idArg(in, "reservation_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Reservations.Cancel(ctx, p, id)
	if err != nil {
		return nil, s.toStatus("cancel reservation", err)
	}
	return convert.ToProtoReservationResult(res)
}

func (s *Server) expireReservation(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	id, err := s.idArg(in, "reservation_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Reservations.Expire(ctx, id)
	if err != nil {
		return nil, s.toStatus("expire reservation", err)
	}
	return convert.ToProtoReservationResult(res)
}

// --- Fines ---

func (s *Server) payFine(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	userID, err := subject(p, in)
	if err != nil {
		return nil, err
	}
	amount, err := in.Decimal("amount")
	if err != nil {
		return nil, s.toStatus("pay fine", err)
	}
	res, err := s.svc.Fines.PayFine(ctx, userID, amount)
	if err != nil {
		return nil, s.toStatus("pay fine", err)
	}
	return convert.ToProtoPaymentResult(res)
}

// --- Sweeps ---

func (s *Server) runSweep(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	var (
		rep service.SweepReport
		n   int
		err error
	)
	sw := s.svc.Sweeps
	switch kind := strings.ToLower(in.String("sweep")); kind {
	case "", "all":
		rep = sw.RunAll(ctx)
	case "pickups":
		n, err = sw.SweepExpiredPickups(ctx)
		rep.ExpiredPickups = n
	case "holds":
		n, err = sw.SweepExpiredHolds(ctx)
		rep.ExpiredHolds = n
	case "due":
		var days int
		if days, err = in.Int("window_days", 0); err != nil {
			return nil, s.toStatus("run sweep", err)
		}
		if days < 0 {
			return nil, status.Error(codes.InvalidArgument, "window_days must not be negative")
		}
		n, err = sw.SweepUpcomingDue(ctx, time.Duration(days)*24*time.Hour)
		rep.DueSoon = n
	case "overdue":
		n, err = sw.SweepOverdue(ctx)
		rep.Overdue = n
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown sweep %q", kind)
	}
	if err != nil {
		rep.Errors = append(rep.Errors, err)
	}
	return convert.ToProtoSweepReport(rep)
}

// --- Notifications ---

const maxNotifications = 100

func (s *Server) listNotifications(ctx context.Context, p *model.Principal, in convert.Args) (*structpb.Struct, error) {
	if s.notes == nil {
		return nil, status.Error(codes.Unimplemented, "notifications are not stored")
	}
	userID, err := subject(p, in)
	if err != nil {
		return nil, err
	}
	limit, err := in.Int("limit", 20)
	if err != nil {
		return nil, s.toStatus("list notifications", err)
	}
	limit = min(max(limit, 1), maxNotifications)
	list, err := s.notes.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, s.toStatus("list notifications", err)
	}
	out := make([]any, 0, len(list))
	for _, n := range list {
		out = append(out, convert.ToProtoNotification(n))
	}
	return convert.Reply("", map[string]any{"notifications": out})
}
