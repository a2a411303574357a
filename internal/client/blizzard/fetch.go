package blizzard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var realmHrefRe = regexp.MustCompile(`/connected-realm/(\d+)`)

// FetchItem looks an item up by id. An unknown id yields StatusNotFound.
func (c *Client) FetchItem(ctx context.Context, id int64) (Result[Item], error) {
	resp, err := c.get(ctx, "/data/wow/search/item", namespaceStatic, map[string]string{
		"id": strconv.FormatInt(id, 10),
	})
	if err != nil {
		return Result[Item]{}, err
	}
	if resp.status == http.StatusNotFound {
		return notFound[Item](), nil
	}
	return transformItem(id, resp.body, c.cfg.Locale), nil
}

func transformItem(id int64, body []byte, locale string) Result[Item] {
	var payload itemSearchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return malformed[Item](fmt.Errorf("%w: item %d: %v", ErrMalformedPayload, id, err))
	}
	if len(payload.Results) == 0 {
		return notFound[Item]()
	}
	// The search may return other items; only an exact id match counts.
	var raw *rawItem
	unidentified := false
	for i := range payload.Results {
		d := &payload.Results[i].Data
		if d.ID == nil {
			unidentified = true
			continue
		}
		if *d.ID == id {
			raw = d
			break
		}
	}
	if raw == nil {
		if unidentified {
			return malformed[Item](fmt.Errorf("%w: item %d: result without id", ErrMalformedPayload, id))
		}
		return notFound[Item]()
	}
	if raw.ItemClass == nil || raw.ItemClass.ID == nil ||
		raw.ItemSubclass == nil || raw.ItemSubclass.ID == nil {
		return malformed[Item](fmt.Errorf("%w: item %d: missing id or class fields", ErrMalformedPayload, id))
	}
	name := raw.Name.get(locale)
	if name == "" {
		return malformed[Item](fmt.Errorf("%w: item %d: missing name", ErrMalformedPayload, id))
	}
	return ok(Item{
		ID:           *raw.ID,
		Name:         name,
		ClassID:      *raw.ItemClass.ID,
		ClassName:    raw.ItemClass.Name.get(locale),
		SubclassID:   *raw.ItemSubclass.ID,
		SubclassName: raw.ItemSubclass.Name.get(locale),
	})
}

// FetchRealmIndex lists every connected realm id. Entries whose href carries
// no id are skipped with a warning.
func (c *Client) FetchRealmIndex(ctx context.Context) ([]int64, error) {
	var ids []int64
	seen := map[int64]struct{}{}
	page := 1
	for {
		query := map[string]string{}
		if page > 1 {
			query["_page"] = strconv.Itoa(page)
		}
		resp, err := c.get(ctx, "/data/wow/connected-realm/index", namespaceDynamic, query)
		if err != nil {
			return nil, err
		}
		if resp.status == http.StatusNotFound {
			return nil, &APIError{Status: resp.status, Body: "connected realm index not found"}
		}
		var payload realmIndexResponse
		if err := json.Unmarshal(resp.body, &payload); err != nil {
			return nil, fmt.Errorf("%w: realm index: %v", ErrMalformedPayload, err)
		}
		for _, entry := range payload.ConnectedRealms {
			id, ok := parseRealmHref(entry.Href)
			if !ok {
				if c.logger != nil {
					c.logger.Warn("skipping malformed realm index entry", zap.String("href", entry.Href))
				}
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if payload.PageCount <= 1 || page >= payload.PageCount {
			break
		}
		page++
	}
	return ids, nil
}

func parseRealmHref(href string) (int64, bool) {
	m := realmHrefRe.FindStringSubmatch(href)
	if len(m) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (c *Client) FetchRealmDetail(ctx context.Context, id int64) (Result[Realm], error) {
	resp, err := c.get(ctx, "/data/wow/connected-realm/"+strconv.FormatInt(id, 10), namespaceDynamic, nil)
	if err != nil {
		return Result[Realm]{}, err
	}
	if resp.status == http.StatusNotFound {
		return notFound[Realm](), nil
	}
	return transformRealm(id, resp.body, c.cfg.Locale), nil
}

func transformRealm(id int64, body []byte, locale string) Result[Realm] {
	var payload realmDetailResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return malformed[Realm](fmt.Errorf("%w: realm %d: %v", ErrMalformedPayload, id, err))
	}
	if payload.ID != nil && *payload.ID != id {
		return malformed[Realm](fmt.Errorf("%w: realm %d: payload is for realm %d", ErrMalformedPayload, id, *payload.ID))
	}
	if len(payload.Realms) == 0 {
		return malformed[Realm](fmt.Errorf("%w: realm %d: no member realms", ErrMalformedPayload, id))
	}
	names := make([]string, 0, len(payload.Realms))
	for _, r := range payload.Realms {
		if n := r.Name.get(locale); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return malformed[Realm](fmt.Errorf("%w: realm %d: unnamed", ErrMalformedPayload, id))
	}
	realm := Realm{
		ID:       id,
		Name:     strings.Join(names, ", "),
		Category: payload.Realms[0].Category.get(locale),
	}
	if payload.Population != nil {
		realm.PopulationType = payload.Population.Type
	}
	if payload.Status != nil {
		realm.Status = payload.Status.Type
	}
	return ok(realm)
}

// FetchAuctions returns the realm's current auction snapshot restricted to
// knownItems. Individual malformed listings are counted and skipped.
func (c *Client) FetchAuctions(ctx context.Context, realmID int64, knownItems map[int64]struct{}) (Result[AuctionSnapshot], error) {
	path := fmt.Sprintf("/data/wow/connected-realm/%d/auctions", realmID)
	resp, err := c.get(ctx, path, namespaceDynamic, nil)
	if err != nil {
		return Result[AuctionSnapshot]{}, err
	}
	if resp.status == http.StatusNotFound {
		return notFound[AuctionSnapshot](), nil
	}
	res := transformAuctions(resp.body, knownItems)
	if res.Status == StatusOK {
		res.Value.LastModified = lastModified(resp.header)
	}
	return res, nil
}

func transformAuctions(body []byte, knownItems map[int64]struct{}) Result[AuctionSnapshot] {
	var payload auctionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return malformed[AuctionSnapshot](fmt.Errorf("%w: auctions: %v", ErrMalformedPayload, err))
	}
	snap := AuctionSnapshot{Auctions: make([]Auction, 0, len(payload.Auctions))}
	for _, rawMsg := range payload.Auctions {
		var raw rawAuction
		if err := json.Unmarshal(rawMsg, &raw); err != nil ||
			raw.ID == nil || raw.Item == nil || raw.Item.ID == nil ||
			raw.Quantity == nil || *raw.Quantity <= 0 {
			snap.Malformed++
			continue
		}
		if _, known := knownItems[*raw.Item.ID]; !known {
			snap.Untracked++
			continue
		}
		snap.Auctions = append(snap.Auctions, Auction{
			ID:       *raw.ID,
			ItemID:   *raw.Item.ID,
			Buyout:   raw.Buyout,
			Quantity: *raw.Quantity,
			TimeLeft: raw.TimeLeft,
		})
	}
	return ok(snap)
}

// FetchCommodities returns the region-wide commodity listings. Raw entries
// are not merged here.
func (c *Client) FetchCommodities(ctx context.Context) (Result[CommoditySnapshot], error) {
	resp, err := c.get(ctx, "/data/wow/auctions/commodities", namespaceDynamic, nil)
	if err != nil {
		return Result[CommoditySnapshot]{}, err
	}
	if resp.status == http.StatusNotFound {
		return notFound[CommoditySnapshot](), nil
	}
	res := transformCommodities(resp.body)
	if res.Status == StatusOK {
		res.Value.LastModified = lastModified(resp.header)
	}
	return res, nil
}

func transformCommodities(body []byte) Result[CommoditySnapshot] {
	var payload auctionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return malformed[CommoditySnapshot](fmt.Errorf("%w: commodities: %v", ErrMalformedPayload, err))
	}
	snap := CommoditySnapshot{Commodities: make([]Commodity, 0, len(payload.Auctions))}
	for _, rawMsg := range payload.Auctions {
		var raw rawAuction
		if err := json.Unmarshal(rawMsg, &raw); err != nil ||
			raw.Item == nil || raw.Item.ID == nil ||
			raw.Quantity == nil || *raw.Quantity <= 0 ||
			raw.UnitPrice == nil || *raw.UnitPrice < 0 {
			snap.Malformed++
			continue
		}
		snap.Commodities = append(snap.Commodities, Commodity{
			ItemID:    *raw.Item.ID,
			Quantity:  *raw.Quantity,
			UnitPrice: *raw.UnitPrice,
		})
	}
	return ok(snap)
}

func lastModified(h http.Header) time.Time {
	if v := h.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
