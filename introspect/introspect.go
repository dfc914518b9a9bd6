// Package introspect exposes a debug HTTP server for the cache and
// worker: a GraphQL endpoint for point-in-time queries, a websocket
// stream of periodic stats snapshots, and a PNG chart of the mean hit
// rate.
// None of this is exercised by the render path itself; it exists
// purely to let a developer watch the cache and queue behave, the
// same role freqsensor's NewGraphqlType and simdisplay's config
// server play for the teacher's own parameter surfaces.
package introspect

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/worker"
)

// Server is the debug HTTP server. Construct with New and serve
// Handler, on its own or mounted on an existing mux.
type Server struct {
	cache  *cache.Cache
	queue  *worker.Queue
	schema graphql.Schema

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// New builds a Server reporting on c's statistics and q's depth.
func New(c *cache.Cache, q *worker.Queue) (*Server, error) {
	s := &Server{
		cache: c,
		queue: q,
		subs:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	schema, err := s.buildSchema()
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return s, nil
}

// statsType is the GraphQL object returned by the "stats" root field.
func (s *Server) buildSchema() (graphql.Schema, error) {
	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CacheStats",
		Fields: graphql.Fields{
			"hits":           &graphql.Field{Type: graphql.Int},
			"misses":         &graphql.Field{Type: graphql.Int},
			"evictions":      &graphql.Field{Type: graphql.Int},
			"consolidations": &graphql.Field{Type: graphql.Int},
			"hitRate":        &graphql.Field{Type: graphql.Float},
			"queueDepth":     &graphql.Field{Type: graphql.Int},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"stats": &graphql.Field{
				Type: statsType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					st, hitRate := s.cache.Stats()
					return map[string]interface{}{
						"hits":           st.Hits,
						"misses":         st.Misses,
						"evictions":      st.Evictions,
						"consolidations": st.Consolidations,
						"hitRate":        hitRate,
						"queueDepth":     s.queue.Depth(),
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
}

// Query runs a GraphQL query against the debug schema, mirroring
// FrequencySensor.Query's graphql.Do wrapper.
func (s *Server) Query(query string, vars map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  query,
		VariableValues: vars,
	})
}

// Handler returns the mux this server serves on: /debug/graphql,
// /debug/events, and /debug/cache.png.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/graphql", s.handleGraphQL)
	mux.HandleFunc("/debug/events", s.handleEvents)
	mux.HandleFunc("/debug/cache.png", s.handleChart)
	return mux
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := s.Query(body.Query, body.Variables)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleEvents upgrades to a websocket and pushes a stats snapshot
// every second until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("introspect: websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		st, hitRate := s.cache.Stats()
		msg := map[string]interface{}{
			"hits":       st.Hits,
			"misses":     st.Misses,
			"evictions":  st.Evictions,
			"hitRate":    hitRate,
			"queueDepth": s.queue.Depth(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// handleChart renders the cache's mean hit rate over every recorded
// lookup as a flat PNG line chart, using gonum/plot; it does not plot
// the rate over time.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	st, hitRate := s.cache.Stats()

	p := plot.New()
	p.Title.Text = "cache hit rate"
	p.Y.Label.Text = "rate"
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, 2)
	pts[0].X, pts[0].Y = 0, hitRate
	pts[1].X, pts[1].Y = 1, hitRate
	line, err := plotter.NewLine(pts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.Add(line)

	img, err := p.WriterTo(6*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	glog.V(2).Infof("introspect: rendered cache.png (evictions=%d consolidations=%d)", st.Evictions, st.Consolidations)
	w.Header().Set("Content-Type", "image/png")
	img.WriteTo(w)
}
