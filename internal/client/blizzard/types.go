package blizzard

import (
	"bytes"
	"encoding/json"
	"time"
)

type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a fetch that reached the upstream and got an
// answer. Transport, credential and non-404 HTTP failures are returned as
// errors next to it instead.
type Result[T any] struct {
	Status Status
	Value  T
	// Err is set for StatusMalformed and wraps ErrMalformedPayload.
	Err error
}

func ok[T any](v T) Result[T] { return Result[T]{Status: StatusOK, Value: v} }

func notFound[T any]() Result[T] { return Result[T]{Status: StatusNotFound} }

func malformed[T any](err error) Result[T] { return Result[T]{Status: StatusMalformed, Err: err} }

type Item struct {
	ID           int64
	Name         string
	ClassID      int64
	ClassName    string
	SubclassID   int64
	SubclassName string
}

type Realm struct {
	ID             int64
	Name           string
	PopulationType string
	Category       string
	Status         string
}

type Auction struct {
	ID       int64
	ItemID   int64
	Buyout   *int64
	Quantity int64
	TimeLeft string
}

type AuctionSnapshot struct {
	Auctions     []Auction
	LastModified time.Time
	// Untracked counts listings dropped because their item is not known.
	Untracked int
	Malformed int
}

type Commodity struct {
	ItemID    int64
	Quantity  int64
	UnitPrice int64
}

type CommoditySnapshot struct {
	Commodities  []Commodity
	LastModified time.Time
	Malformed    int
}

// --- wire payloads ------------------------------------------------------------

// localized accepts either a plain string or a locale->string object.
type localized struct {
	plain  string
	values map[string]string
}

func (l *localized) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &l.plain)
	}
	return json.Unmarshal(b, &l.values)
}

func (l localized) get(locale string) string {
	if l.plain != "" {
		return l.plain
	}
	if v := l.values[locale]; v != "" {
		return v
	}
	if v := l.values["en_US"]; v != "" {
		return v
	}
	for _, v := range l.values {
		if v != "" {
			return v
		}
	}
	return ""
}

type rawRef struct {
	ID   *int64    `json:"id"`
	Name localized `json:"name"`
	Type string    `json:"type"`
}

type rawItem struct {
	ID           *int64    `json:"id"`
	Name         localized `json:"name"`
	ItemClass    *rawRef   `json:"item_class"`
	ItemSubclass *rawRef   `json:"item_subclass"`
}

type itemSearchResponse struct {
	Results []struct {
		Data rawItem `json:"data"`
	} `json:"results"`
}

type realmIndexResponse struct {
	ConnectedRealms []struct {
		Href string `json:"href"`
	} `json:"connected_realms"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

type realmDetailResponse struct {
	ID         *int64  `json:"id"`
	Status     *rawRef `json:"status"`
	Population *rawRef `json:"population"`
	Realms     []struct {
		ID       int64     `json:"id"`
		Name     localized `json:"name"`
		Category localized `json:"category"`
	} `json:"realms"`
}

type rawAuction struct {
	ID   *int64 `json:"id"`
	Item *struct {
		ID *int64 `json:"id"`
	} `json:"item"`
	Buyout    *int64 `json:"buyout"`
	UnitPrice *int64 `json:"unit_price"`
	Quantity  *int64 `json:"quantity"`
	TimeLeft  string `json:"time_left"`
}

type auctionsResponse struct {
	Auctions []json.RawMessage `json:"auctions"`
}
