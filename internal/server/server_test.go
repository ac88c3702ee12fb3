package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"abyss-chat-backend/internal/backend"
	"abyss-chat-backend/internal/chat"
	"abyss-chat-backend/internal/config"
	"abyss-chat-backend/internal/events"
	"abyss-chat-backend/internal/knowledge"
	"abyss-chat-backend/internal/metrics"
	"abyss-chat-backend/internal/resolver"
	"abyss-chat-backend/internal/server"
	"abyss-chat-backend/internal/store"
	"abyss-chat-backend/internal/types"
)

var _ = Describe("Server", func() {
	var (
		router http.Handler
		st     *store.MemoryStore
		hub    *events.Hub
		m      *metrics.Metrics
	)

	BeforeEach(func() {
		m = metrics.New()
		hub = events.NewHub(zerolog.Nop())
		local := resolver.New(knowledge.Widget(), resolver.NewSource(3))
		d := backend.NewDispatcher(nil, local, time.Second, zerolog.Nop(), m)
		timing := chat.Timing{
			ThinkMin:          time.Millisecond,
			ThinkMax:          2 * time.Millisecond,
			CommandDelay:      time.Millisecond,
			QuickOptionsDelay: time.Millisecond,
		}
		st = store.NewMemoryStore(time.Minute, func(id string) *chat.Session {
			return chat.New(id, local.Greeting(), d, chat.Options{
				Timing:   timing,
				Listener: hub,
				Log:      zerolog.Nop(),
				Metrics:  m,
			})
		}, m)
		st.OnEvict(hub.CloseSession)
		srv := server.NewServer(server.Deps{
			Config:  config.Config{AllowedOrigin: "*", SessionTTL: time.Minute},
			Store:   st,
			Hub:     hub,
			Backend: resolver.New(knowledge.Backend(), resolver.NewSource(3)),
			Metrics: m,
			Log:     zerolog.Nop(),
		})
		router = srv.Router()
	})

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	createSession := func() chat.Snapshot {
		w := do(http.MethodPost, "/api/sessions", nil)
		Expect(w.Code).To(Equal(http.StatusCreated))
		var snap chat.Snapshot
		Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
		return snap
	}

	snapshot := func(id string) chat.Snapshot {
		w := do(http.MethodGet, "/api/sessions/"+id, nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		var snap chat.Snapshot
		Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
		return snap
	}

	Describe("backend endpoints", func() {
		It("reports health with the backend greeting", func() {
			w := do(http.MethodGet, "/health", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp types.HealthResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal("healthy"))
			Expect(resp.Message).To(ContainSubstring("Chatbot is running"))
		})

		It("answers /api/health", func() {
			w := do(http.MethodGet, "/api/health", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"ok"`))
		})

		It("answers /chat with a social profile first", func() {
			w := do(http.MethodPost, "/chat", types.ChatRequest{Message: "hi, what is your github?"})
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp types.ChatResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Response).To(ContainSubstring("GitHub"))
		})

		It("rejects an empty /chat message", func() {
			w := do(http.MethodPost, "/chat", types.ChatRequest{Message: "  "})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			var resp types.ErrorResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Error).To(Equal("No message provided"))
		})

		It("rejects malformed JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("serves metrics", func() {
			do(http.MethodPost, "/chat", types.ChatRequest{Message: "how old is he"})
			w := do(http.MethodGet, "/metrics", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("abyss_topic_hits_total"))
		})
	})

	Describe("sessions", func() {
		It("creates a session seeded with the greeting", func() {
			snap := createSession()
			Expect(snap.ID).NotTo(BeEmpty())
			Expect(snap.Menu).To(Equal(chat.MenuInitialOptions))
			Expect(snap.Transcript).To(HaveLen(1))
			Expect(snap.Transcript[0].Role).To(Equal(chat.RoleAssistant))
		})

		It("reuses the session named by the cookie", func() {
			w := do(http.MethodPost, "/api/sessions", nil)
			cookies := w.Result().Cookies()
			Expect(cookies).NotTo(BeEmpty())
			Expect(cookies[0].Name).To(Equal(server.CookieName))

			req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
			req.AddCookie(cookies[0])
			w2 := httptest.NewRecorder()
			router.ServeHTTP(w2, req)
			Expect(w2.Code).To(Equal(http.StatusOK))
			Expect(w2.Header().Get(server.SessionHeader)).To(Equal(cookies[0].Value))
			Expect(st.Len()).To(Equal(1))
		})

		It("mints a fresh id when the client id is not a uuid", func() {
			for _, sid := range []string{"admin", strings.Repeat("x", 4096), "{" + uuid.NewString() + "}"} {
				req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
				req.Header.Set(server.SessionHeader, sid)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				Expect(w.Code).To(Equal(http.StatusCreated))
				minted := w.Header().Get(server.SessionHeader)
				Expect(minted).NotTo(Equal(sid))
				_, err := uuid.Parse(minted)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("honours a well-formed client id", func() {
			sid := uuid.NewString()
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
			req.Header.Set(server.SessionHeader, sid)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.Header().Get(server.SessionHeader)).To(Equal(sid))
		})

		It("returns 404 for an unknown session", func() {
			w := do(http.MethodGet, "/api/sessions/nope", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("accepts a message and delivers the reply", func() {
			id := createSession().ID
			w := do(http.MethodPost, "/api/sessions/"+id+"/messages", types.SubmitRequest{Text: "How old is Alish?"})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			var resp types.SubmitResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Accepted).To(BeTrue())
			Expect(resp.Snapshot.Transcript).To(HaveLen(2))

			Eventually(func() int { return len(snapshot(id).Transcript) }).Should(Equal(3))
			snap := snapshot(id)
			Expect(snap.Pending).To(BeFalse())
			Expect(snap.Transcript[2].Role).To(Equal(chat.RoleAssistant))
		})

		It("reports an empty message as not accepted", func() {
			id := createSession().ID
			w := do(http.MethodPost, "/api/sessions/"+id+"/messages", types.SubmitRequest{Text: "   "})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			var resp types.SubmitResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Accepted).To(BeFalse())
			Expect(resp.Snapshot.Transcript).To(HaveLen(1))
		})

		It("maps an option to its canned text and hides the menu", func() {
			id := createSession().ID
			w := do(http.MethodPost, "/api/sessions/"+id+"/options/skills", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			var resp types.SubmitResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Accepted).To(BeTrue())
			Expect(resp.Snapshot.Menu).To(Equal(chat.MenuHidden))
			Expect(resp.Snapshot.Transcript[1].Content).To(Equal("What are his skills?"))
		})

		It("rejects unknown options and platforms", func() {
			id := createSession().ID
			Expect(do(http.MethodPost, "/api/sessions/"+id+"/options/weather", nil).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/api/sessions/"+id+"/social/myspace", nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("offers quick actions after a social reply", func() {
			id := createSession().ID
			w := do(http.MethodPost, "/api/sessions/"+id+"/social/github", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Eventually(func() chat.MenuState { return snapshot(id).Menu }).Should(Equal(chat.MenuQuickActions))
		})

		It("clears the transcript back to the greeting", func() {
			id := createSession().ID
			do(http.MethodPost, "/api/sessions/"+id+"/messages", types.SubmitRequest{Text: "where"})
			w := do(http.MethodPost, "/api/sessions/"+id+"/clear", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			var snap chat.Snapshot
			Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.Transcript).To(HaveLen(1))
			Expect(snap.Pending).To(BeFalse())
			Expect(snap.Menu).To(Equal(chat.MenuInitialOptions))
			Consistently(func() int { return len(snapshot(id).Transcript) }, 50*time.Millisecond).Should(Equal(1))
		})

		It("deletes a session", func() {
			id := createSession().ID
			Expect(do(http.MethodDelete, "/api/sessions/"+id, nil).Code).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/api/sessions/"+id, nil).Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("event stream", func() {
		It("rejects a plain HTTP request", func() {
			id := createSession().ID
			w := do(http.MethodGet, "/api/sessions/"+id+"/events", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("streams a snapshot and then session events", func() {
			ts := httptest.NewServer(router)
			defer ts.Close()
			id := createSession().ID

			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/events"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

			var env events.Envelope
			Expect(conn.ReadJSON(&env)).To(Succeed())
			Expect(env.Type).To(Equal(events.TypeSnapshot))

			do(http.MethodPost, "/api/sessions/"+id+"/clear", nil)
			Expect(conn.ReadJSON(&env)).To(Succeed())
			Expect(env.Type).To(Equal(string(chat.EventSessionCleared)))
		})
	})
})
