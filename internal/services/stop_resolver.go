package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/metrics"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

var (
	inlineStopFields = []string{"addresses", "direcciones", "stops"}
	coordContainers  = []string{"coords", "location", "geo", "point", "geopoint"}
	latFields        = []string{"lat", "latitude"}
	lngFields        = []string{"lng", "lon", "long", "longitude"}
	addressFields    = []string{"address", "adress", "direccion", "stopAddress", "locationAddress"}
	titleFields      = []string{"title", "name", "paradero", "label"}
	idFields         = []string{"id", "stopId", "code"}
	orderFields      = []string{"order", "orden", "sequence", "index"}
	routeNameFields  = []string{"name", "title", "route"}
)

// StopResolver finds the ordered stop list of a profile's route. Route data
// lives under inconsistently named collections, so several lookup
// strategies are tried in a fixed order and the first with stops wins.
type StopResolver struct {
	store   database.DocumentStore
	cfg     config.ResolverConfig
	metrics *metrics.Collector
	logger  *logrus.Logger
}

// NewStopResolver creates a new StopResolver
func NewStopResolver(store database.DocumentStore, cfg config.ResolverConfig, m *metrics.Collector, logger *logrus.Logger) *StopResolver {
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 10
	}
	return &StopResolver{store: store, cfg: cfg, metrics: m, logger: logger}
}

// Resolve returns the stops of the profile's route or ErrRouteNotFound
func (r *StopResolver) Resolve(ctx context.Context, profile *models.Profile) (*models.ResolvedRoute, error) {
	if profile == nil || profile.Route.String() == "" {
		r.metrics.ResolverLookup("none", "miss")
		return nil, fmt.Errorf("profile has no route: %w", ErrRouteNotFound)
	}
	route := profile.Route.String()
	routeCandidates := RouteCandidates(route)

	for _, school := range r.cfg.SchoolCollections {
		for _, institution := range institutionCandidates(profile) {
			for _, routeCollection := range r.cfg.RouteCollections {
				resolved := r.tryCollection(ctx, []string{school, institution, routeCollection}, routeCandidates, route)
				if resolved != nil {
					r.metrics.ResolverLookup("nested", "hit")
					return r.finish(resolved, institution, profile), nil
				}
			}
		}
	}

	for _, root := range r.cfg.RootRouteCollections {
		resolved := r.tryCollection(ctx, []string{root}, routeCandidates, route)
		if resolved != nil {
			r.metrics.ResolverLookup("root", "hit")
			return r.finish(resolved, InstitutionKey(profile), profile), nil
		}
	}

	r.metrics.ResolverLookup("none", "miss")
	return nil, fmt.Errorf("no stops for route %q: %w", route, ErrRouteNotFound)
}

// RouteIDCandidates returns the route document ids a route is stored under:
// the id of the resolved route name and the id of the profile's route.
func (r *StopResolver) RouteIDCandidates(resolved *models.ResolvedRoute, profile *models.Profile) []string {
	var fromResolved, fromProfile string
	if resolved != nil {
		fromResolved = resolved.RouteID
	}
	if profile != nil {
		fromProfile = utils.RouteID(profile.Route.String())
	}
	return utils.Unique(fromResolved, fromProfile)
}

// InstitutionKey is the institution part of a route key
func InstitutionKey(profile *models.Profile) string {
	if code := profile.InstitutionCode.String(); code != "" {
		return code
	}
	if slug := utils.NormalizeIdentifier(profile.InstitutionName.String()); slug != "" {
		return slug
	}
	return "global"
}

// RouteCandidates lists the document ids a route name may be stored under
func RouteCandidates(route string) []string {
	literal := strings.TrimSpace(route)
	candidates := []string{
		literal,
		utils.NormalizeRoute(literal),
		utils.NormalizeIdentifier(literal),
		utils.RouteID(literal),
	}
	if n := utils.FirstNumber(literal); n != "" {
		candidates = append(candidates, n, "ruta "+n, "ruta-"+n, "route-"+n)
	}
	return utils.Unique(candidates...)
}

func institutionCandidates(profile *models.Profile) []string {
	code := profile.InstitutionCode.String()
	name := profile.InstitutionName.String()
	return utils.Unique(code, name, utils.NormalizeIdentifier(code), utils.NormalizeIdentifier(name))
}

type routeMatch struct {
	path  string
	id    string
	data  map[string]any
	stops []models.RouteStop
}

// tryCollection looks up the route in one collection: each candidate as a
// direct id first, then a bounded scan matching on the route name.
func (r *StopResolver) tryCollection(ctx context.Context, collection []string, candidates []string, route string) *routeMatch {
	collectionPath := database.JoinPath(collection...)

	for _, candidate := range candidates {
		path := database.JoinPath(append(append([]string{}, collection...), candidate)...)
		doc, err := r.store.Get(ctx, path)
		if err != nil {
			r.logger.WithError(err).WithField("path", path).Debug("route lookup failed")
			continue
		}
		if doc == nil {
			continue
		}
		if stops := r.loadStops(ctx, doc.Path, doc.Data); len(stops) > 0 {
			return &routeMatch{path: doc.Path, id: doc.ID, data: doc.Data, stops: stops}
		}
	}

	docs, err := r.store.List(ctx, collectionPath, r.cfg.ScanLimit)
	if err != nil {
		r.logger.WithError(err).WithField("collection", collectionPath).Debug("route scan failed")
		return nil
	}
	doc := pickRouteDocument(docs, route)
	if doc == nil {
		return nil
	}
	if stops := r.loadStops(ctx, doc.Path, doc.Data); len(stops) > 0 {
		return &routeMatch{path: doc.Path, id: doc.ID, data: doc.Data, stops: stops}
	}
	return nil
}

func (r *StopResolver) finish(match *routeMatch, institutionKey string, profile *models.Profile) *models.ResolvedRoute {
	name := extractRouteName(match.data, match.id, profile.Route.String())
	routeID := utils.RouteID(name)
	if routeID == "" {
		routeID = utils.RouteID(profile.Route.String())
	}
	return &models.ResolvedRoute{
		RouteKey:   institutionKey + ":" + utils.NormalizeRoute(name),
		RouteID:    routeID,
		RouteName:  name,
		SourcePath: match.path,
		Stops:      match.stops,
	}
}

// loadStops reads inline stop arrays first, then stop subcollections
func (r *StopResolver) loadStops(ctx context.Context, routePath string, data map[string]any) []models.RouteStop {
	for _, field := range inlineStopFields {
		items, ok := data[field].([]any)
		if !ok || len(items) == 0 {
			continue
		}
		records := make([]stopRecord, 0, len(items))
		for _, item := range items {
			records = append(records, stopRecord{raw: item})
		}
		if stops := NormalizeStops(records); len(stops) > 0 {
			return stops
		}
	}

	for _, sub := range r.cfg.StopCollections {
		path := routePath + "/" + database.JoinPath(sub)
		docs, err := r.store.List(ctx, path, 0)
		if err != nil {
			r.logger.WithError(err).WithField("collection", path).Debug("stop subcollection read failed")
			continue
		}
		if len(docs) == 0 {
			continue
		}
		records := make([]stopRecord, 0, len(docs))
		for _, doc := range docs {
			records = append(records, stopRecord{raw: doc.Data, docID: doc.ID})
		}
		if stops := NormalizeStops(records); len(stops) > 0 {
			return stops
		}
	}
	return nil
}

func pickRouteDocument(docs []database.Document, route string) *database.Document {
	if len(docs) == 0 {
		return nil
	}
	target := utils.NormalizeRoute(route)
	for i := range docs {
		for _, field := range routeNameFields {
			if utils.NormalizeRoute(models.TextOf(docs[i].Data[field])) == target {
				return &docs[i]
			}
		}
		if utils.NormalizeRoute(docs[i].ID) == target {
			return &docs[i]
		}
	}
	return &docs[0]
}

// extractRouteName prefers the route document's own name, then the
// profile's route, then the document id
func extractRouteName(data map[string]any, docID, profileRoute string) string {
	for _, field := range routeNameFields {
		if name := models.TextOf(data[field]); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(profileRoute); name != "" {
		return name
	}
	if docID != "" {
		return docID
	}
	return "ruta"
}

type stopRecord struct {
	raw   any
	docID string
}

type parsedStop struct {
	stop      models.RouteStop
	sortOrder float64
}

// NormalizeStops converts raw stop records into ordered RouteStops. The
// order comes from an explicit numeric field, else trailing digits of the
// id, code or document id, else the record's position. Sorting is stable.
func NormalizeStops(records []stopRecord) []models.RouteStop {
	parsed := make([]parsedStop, 0, len(records))
	for i, record := range records {
		if p, ok := parseStopRecord(record.raw, i, record.docID); ok {
			parsed = append(parsed, p)
		}
	}
	sort.SliceStable(parsed, func(a, b int) bool {
		return parsed[a].sortOrder < parsed[b].sortOrder
	})

	stops := make([]models.RouteStop, 0, len(parsed))
	for i, p := range parsed {
		p.stop.Order = i
		stops = append(stops, p.stop)
	}
	return stops
}

func parseStopRecord(raw any, index int, docID string) (parsedStop, bool) {
	fallbackTitle := fmt.Sprintf("Paradero %d", index+1)
	fallbackID := fmt.Sprintf("paradero-%d", index+1)

	if text, ok := raw.(string); ok {
		address := strings.TrimSpace(text)
		if address == "" {
			return parsedStop{}, false
		}
		id := utils.NormalizeIdentifier(address)
		if id == "" {
			id = fallbackID
		}
		return parsedStop{
			stop: models.RouteStop{
				ID:      id,
				Key:     utils.StopKey(id, address, address),
				Title:   address,
				Address: address,
			},
			sortOrder: float64(index),
		}, true
	}

	record, ok := raw.(map[string]any)
	if !ok {
		return parsedStop{}, false
	}

	address := firstText(record, addressFields...)
	title := firstText(record, titleFields...)
	if title == "" {
		title = address
	}
	if title == "" {
		title = docID
	}
	if title == "" {
		title = fallbackTitle
	}

	rawID := firstText(record, idFields...)
	if rawID == "" {
		rawID = docID
	}
	if rawID == "" {
		rawID = title
	}
	id := utils.NormalizeIdentifier(rawID)
	if id == "" {
		id = fallbackID
	}

	sortOrder := float64(index)
	if explicit, ok := firstNumber(record, orderFields...); ok {
		sortOrder = explicit
	} else {
		for _, hint := range []string{models.TextOf(record["id"]), models.TextOf(record["code"]), docID} {
			if n, ok := utils.ParseOrderHint(hint); ok {
				sortOrder = float64(n)
				break
			}
		}
	}

	return parsedStop{
		stop: models.RouteStop{
			ID:      id,
			Key:     utils.StopKey(id, address, title),
			Title:   title,
			Address: address,
			Coords:  parseCoords(record),
		},
		sortOrder: sortOrder,
	}, true
}

// parseCoords reads a coordinate from a nested container or the record itself
func parseCoords(record map[string]any) *models.LatLng {
	containers := make([]map[string]any, 0, len(coordContainers)+1)
	for _, field := range coordContainers {
		if nested, ok := record[field].(map[string]any); ok {
			containers = append(containers, nested)
		}
	}
	containers = append(containers, record)

	for _, c := range containers {
		lat, latOK := firstNumber(c, latFields...)
		if !latOK {
			lat, latOK = c["_lat"].(float64)
		}
		lng, lngOK := firstNumber(c, lngFields...)
		if !lngOK {
			lng, lngOK = c["_long"].(float64)
		}
		if latOK && lngOK && utils.ValidCoordinate(lat, lng) {
			return &models.LatLng{Lat: lat, Lng: lng}
		}
	}
	return nil
}

func firstText(record map[string]any, fields ...string) string {
	for _, field := range fields {
		if text := models.TextOf(record[field]); text != "" {
			return text
		}
	}
	return ""
}

func firstNumber(record map[string]any, fields ...string) (float64, bool) {
	for _, field := range fields {
		if v := models.ParseFlexFloat(record[field]); v.Valid {
			return v.Value, true
		}
	}
	return 0, false
}
