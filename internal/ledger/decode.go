package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"raffleScope/internal/model"
)

// attribute aliases seen across contract versions
var attrAliases = map[string][]string{
	"nft_contract":    {"cw721_addr", "nft_contract"},
	"revenue_address": {"revenue_addr", "revenue_address"},
	"ticket_index":    {"ticket_index", "winning_ticket_index"},
	"drand_round":     {"drand_round", "randomness_round"},
	"payment_cw20":    {"payment_cw20", "cw20_addr"},
}

type attrs map[string]string

func (a attrs) get(key string) string {
	names, ok := attrAliases[key]
	if !ok {
		return a[key]
	}
	for _, name := range names {
		if v, ok := a[name]; ok {
			return v
		}
	}
	return ""
}

func (a attrs) required(key string) (string, error) {
	v := strings.TrimSpace(a.get(key))
	if v == "" {
		return "", fmt.Errorf("missing attribute %s", key)
	}
	return v, nil
}

func (a attrs) uint(key string) (uint64, error) {
	v, err := a.required(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, nil
}

func (a attrs) unixTime(key string, optional bool) (time.Time, error) {
	v := strings.TrimSpace(a.get(key))
	if v == "" {
		if optional {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("missing attribute %s", key)
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("attribute %s: %w", key, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func (a attrs) amount(key string) (string, error) {
	v, err := a.required(key)
	if err != nil {
		return "", err
	}
	if _, err := decimal.NewFromString(v); err != nil {
		return "", fmt.Errorf("attribute %s: %w", key, err)
	}
	return v, nil
}

// SplitCoin splits "<amount><denom>" into its parts.
func SplitCoin(s string) (amount, denom string, err error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return "", "", fmt.Errorf("invalid coin %q", s)
	}
	if _, err := decimal.NewFromString(s[:i]); err != nil {
		return "", "", fmt.Errorf("invalid coin %q: %w", s, err)
	}
	return s[:i], s[i:], nil
}

// Decode converts a raw contract event into its typed variant.
// Decode failures of known actions become MalformedEvent.
func Decode(ev model.LedgerEvent) model.Event {
	a := attrs(ev.Attributes)
	meta := model.EventMeta{Ledger: ev, RaffleID: strings.TrimSpace(a.get(attrRaffleID))}

	var (
		out model.Event
		err error
	)
	switch ev.Action {
	case model.ActionRaffleCreated:
		out, err = decodeRaffleCreated(meta, a)
	case model.ActionTicketsBought:
		out, err = decodeTicketsBought(meta, a)
	case model.ActionRaffleEnded:
		out, err = decodeRaffleEnded(meta, a)
	case model.ActionWinnerSelected:
		out, err = decodeWinnerSelected(meta, a)
	case model.ActionRaffleCancelled:
		out = model.RaffleCancelled{EventMeta: meta, Creator: a.get("creator")}
	default:
		return model.UnknownEvent{EventMeta: meta}
	}

	if err == nil && meta.RaffleID == "" {
		err = fmt.Errorf("missing attribute %s", attrRaffleID)
	}
	if err != nil {
		return model.MalformedEvent{EventMeta: meta, Err: fmt.Errorf("decode %s: %w", ev.Action, err)}
	}
	return out
}

func decodeRaffleCreated(meta model.EventMeta, a attrs) (model.Event, error) {
	creator, err := a.required("creator")
	if err != nil {
		return nil, err
	}
	price, err := a.required("ticket_price")
	if err != nil {
		return nil, err
	}
	amount, denom, err := SplitCoin(price)
	if err != nil {
		return nil, err
	}
	if pd := strings.TrimSpace(a.get("payment_denom")); pd != "" {
		denom = pd
	}
	maxTickets, err := a.uint("max_tickets")
	if err != nil {
		return nil, err
	}
	start, err := a.unixTime("start_time", true)
	if err != nil {
		return nil, err
	}
	end, err := a.unixTime("end_time", false)
	if err != nil {
		return nil, err
	}

	return model.RaffleCreated{
		EventMeta:      meta,
		Creator:        creator,
		NFTContract:    a.get("nft_contract"),
		TokenID:        a.get("token_id"),
		TicketPrice:    amount,
		PaymentDenom:   denom,
		PaymentCW20:    a.get("payment_cw20"),
		MaxTickets:     maxTickets,
		StartTime:      start,
		EndTime:        end,
		RevenueAddress: a.get("revenue_address"),
	}, nil
}

func decodeTicketsBought(meta model.EventMeta, a attrs) (model.Event, error) {
	buyer, err := a.required("buyer")
	if err != nil {
		return nil, err
	}
	qty, err := a.uint("quantity")
	if err != nil {
		return nil, err
	}
	if qty == 0 {
		return nil, fmt.Errorf("attribute quantity: zero")
	}
	paid, err := a.amount("total_paid")
	if err != nil {
		return nil, err
	}
	return model.TicketsBought{
		EventMeta: meta,
		Buyer:     buyer,
		Quantity:  qty,
		TotalPaid: paid,
		Denom:     a.get("denom"),
	}, nil
}

func decodeRaffleEnded(meta model.EventMeta, a attrs) (model.Event, error) {
	reason := model.EndReason(strings.ToLower(strings.TrimSpace(a.get("end_reason"))))
	switch reason {
	case model.EndReasonTime, model.EndReasonSoldOut:
	case "sold_out":
		reason = model.EndReasonSoldOut
	default:
		return nil, fmt.Errorf("attribute end_reason: unsupported value %q", reason)
	}
	round, err := a.uint("drand_round")
	if err != nil {
		return nil, err
	}
	return model.RaffleEnded{EventMeta: meta, EndReason: reason, RandomnessRound: round}, nil
}

func decodeWinnerSelected(meta model.EventMeta, a attrs) (model.Event, error) {
	winner, err := a.required("winner")
	if err != nil {
		return nil, err
	}
	idx, err := a.uint("ticket_index")
	if err != nil {
		return nil, err
	}
	return model.WinnerSelected{EventMeta: meta, Winner: winner, TicketIndex: idx}, nil
}
