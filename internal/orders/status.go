package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "PENDIENTE"
	StatusInReview  Status = "EN_PROCESO"
	StatusConfirmed Status = "CONFIRMADA"
	StatusCancelled Status = "CANCELADA"
	StatusShipped   Status = "ENVIADA"
	StatusDelivered Status = "ENTREGADA"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDIENTE"
	PaymentVerifying PaymentStatus = "VERIFICANDO"
	PaymentPaid      PaymentStatus = "PAGADA"
	PaymentRejected  PaymentStatus = "RECHAZADA"
)

type PaymentMethod string

const (
	PaymentTransfer PaymentMethod = "TRANSFERENCIA"
	PaymentCash     PaymentMethod = "EFECTIVO"
)

type Decision string

const (
	DecisionAccept     Decision = "ACCEPT"
	DecisionAcceptCash Decision = "ACCEPT_CASH"
	DecisionReject     Decision = "REJECT"
	DecisionPending    Decision = "PENDING"
)

var knownStatuses = map[Status]bool{
	StatusPending:   true,
	StatusInReview:  true,
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusShipped:   true,
	StatusDelivered: true,
}

// LiveStatuses is the status set an order must be in to hold a queue slot.
func LiveStatuses() []Status {
	return []Status{StatusPending, StatusInReview}
}

// RevenueStatuses are the statuses counted as sold by the metrics rollup.
func RevenueStatuses() []Status {
	return []Status{StatusConfirmed, StatusShipped, StatusDelivered}
}

// InLiveQueue reports whether o currently occupies a slot in its store's
// review queue. Membership is derived, never stored.
func InLiveQueue(o *Order) bool {
	if o == nil || !o.Requested || o.RequestedAt == nil {
		return false
	}
	return o.Status == StatusPending || o.Status == StatusInReview
}

// Resolved reports whether a seller decision has settled the order.
func (s Status) Resolved() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusShipped || s == StatusDelivered
}

// Resolution is the pair of fields a decision writes together.
type Resolution struct {
	Status        Status
	PaymentStatus PaymentStatus
	// PaymentMethod is empty when the decision leaves it untouched.
	PaymentMethod PaymentMethod
}

// ResolveDecision maps a seller decision onto order and payment status.
// Anything unrecognised sends the order back to pending verification.
func ResolveDecision(d Decision) Resolution {
	switch Decision(strings.ToUpper(strings.TrimSpace(string(d)))) {
	case DecisionAccept:
		return Resolution{Status: StatusConfirmed, PaymentStatus: PaymentPaid}
	case DecisionAcceptCash:
		return Resolution{Status: StatusConfirmed, PaymentStatus: PaymentPaid, PaymentMethod: PaymentCash}
	case DecisionReject:
		return Resolution{Status: StatusCancelled, PaymentStatus: PaymentRejected}
	default:
		return Resolution{Status: StatusPending, PaymentStatus: PaymentVerifying}
	}
}

// ParseStatuses reads a comma separated status filter. An empty string
// yields the live queue set.
func ParseStatuses(csv string) ([]Status, error) {
	if strings.TrimSpace(csv) == "" {
		return LiveStatuses(), nil
	}
	var out []Status
	seen := map[Status]bool{}
	for _, p := range strings.Split(csv, ",") {
		s := Status(strings.ToUpper(strings.TrimSpace(p)))
		if s == "" || seen[s] {
			continue
		}
		if !knownStatuses[s] {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, p)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return LiveStatuses(), nil
	}
	return out, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
