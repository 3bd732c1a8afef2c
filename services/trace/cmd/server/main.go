package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tracelane/pkg/chainsdk"
	"tracelane/pkg/db"
	"tracelane/pkg/domain"
	"tracelane/pkg/evidence"
	"tracelane/pkg/httpx"
	"tracelane/pkg/rates"
	"tracelane/services/trace/internal/events"
	"tracelane/services/trace/internal/pipeline"
	"tracelane/services/trace/internal/service"
	"tracelane/services/trace/internal/store"
)

var validate = validator.New()

// actorContext identifies the caller. The session itself is established by
// the signing relay; the server only re-checks it pre-flight.
type actorContext struct {
	Address       string `json:"address" validate:"required"`
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
}

func (a actorContext) actor() domain.Actor {
	return domain.Actor{Address: a.Address, Name: a.Name, Authenticated: a.Authenticated}
}

// sessionAuth accepts any actor whose relay session is live. The relay is the
// source of truth for wallet identity; an unauthenticated flag means the
// session lapsed and the caller must re-establish it.
type sessionAuth struct{}

func (sessionAuth) Authenticate(_ context.Context, actor domain.Actor) (bool, error) {
	return actor.Authenticated && actor.Address != "", nil
}

// gasBalance rejects actors whose fee-token balance is below the floor needed
// to pay for a transition transaction.
type gasBalance struct {
	chain chainsdk.Client
	min   decimal.Decimal
}

func (g gasBalance) CheckBalance(ctx context.Context, address string) error {
	bal, err := g.chain.Balance(ctx, address)
	if err != nil {
		return err
	}
	if bal.LessThan(g.min) {
		return fmt.Errorf("%w: balance %s below required %s", domain.ErrInsufficientBalance, bal, g.min)
	}
	return nil
}

// bodyProof hands the orchestrator the proof carried in the request body. An
// HTTP caller never "dismisses" a prompt; sending the request is the consent.
type bodyProof struct{ proof domain.Proof }

func (b bodyProof) Collect(context.Context, service.ProofPrompt) (domain.Proof, bool, error) {
	return b.proof, true, nil
}

// bodyConfirm answers confirmation prompts from the request body.
type bodyConfirm struct{ answer bool }

func (b bodyConfirm) Confirm(context.Context, string, string) (bool, error) {
	return b.answer, nil
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	pool := db.MustConnect()
	st := store.New(pool)

	relayURL := os.Getenv("CHAIN_RELAY_URL")
	if relayURL == "" {
		relayURL = "http://localhost:8545"
	}
	chain := chainsdk.New(relayURL)

	ratesURL := os.Getenv("RATES_API_URL")
	if ratesURL == "" {
		ratesURL = "http://localhost:3010"
	}
	rateCache := rates.NewCache(rates.NewHTTPFetcher(ratesURL, log))

	var sink service.EventSink = events.NopPublisher{}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		conn, err := amqp.Dial(amqpURL)
		if err != nil {
			log.WithError(err).Fatal("amqp dial failed")
		}
		ch, err := conn.Channel()
		if err != nil {
			log.WithError(err).Fatal("amqp channel failed")
		}
		sink, err = events.NewAMQPPublisher(ch, log)
		if err != nil {
			log.WithError(err).Fatal("amqp exchange declare failed")
		}
	}

	minPayout := decimal.NewFromInt(5)
	if v := os.Getenv("MIN_PAYOUT_USD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			log.WithError(err).Fatal("bad MIN_PAYOUT_USD")
		}
		minPayout = d
	}
	minGas := decimal.RequireFromString("0.001")
	if v := os.Getenv("MIN_GAS_BALANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			log.WithError(err).Fatal("bad MIN_GAS_BALANCE")
		}
		minGas = d
	}

	auth := sessionAuth{}
	balance := gasBalance{chain: chain, min: minGas}
	base := &service.Service{
		Store:        st,
		Pipe:         &pipeline.Pipeline{Chain: chain, Auth: auth, Balance: balance, Marker: st, Log: log},
		Auth:         auth,
		Balance:      balance,
		Events:       sink,
		Notify:       events.LogNotifier{Log: log},
		Rates:        rateCache,
		Log:          log,
		MinPayoutUSD: minPayout,
	}
	// Proof and Confirm are request-scoped; svcFor binds them per call.
	svcFor := func(proof domain.Proof, confirm bool) *service.Service {
		s := *base
		s.Proof = bodyProof{proof: proof}
		s.Confirm = bodyConfirm{answer: confirm}
		return &s
	}

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// transition runs one chain-backed operation to its terminal stage and
	// reports every stage the caller would otherwise have watched live.
	transition := func(w http.ResponseWriter, req *http.Request, traceID string,
		run func(ctx context.Context) (<-chan pipeline.Event, error)) {
		ch, err := run(req.Context())
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		var stages []map[string]any
		var failure error
		for ev := range ch {
			stage := map[string]any{"stage": string(ev.Stage)}
			if ev.TxHash != "" {
				stage["tx_hash"] = ev.TxHash
			}
			if ev.Err != nil {
				stage["error"] = ev.Err.Error()
				failure = ev.Err
			}
			stages = append(stages, stage)
		}
		status := http.StatusOK
		code := "OK"
		if failure != nil {
			status, code = httpx.Classify(failure)
		}
		resp := map[string]any{"request_id": httpx.NewRequestID(), "result": code, "stages": stages}
		if t, gerr := st.GetTrace(req.Context(), traceID); gerr == nil {
			resp["trace"] = t
		}
		httpx.WriteJSON(w, status, resp)
	}

	r.Route("/traces", func(api chi.Router) {

		api.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
				Trace struct {
					Title                   string          `json:"title" validate:"required"`
					Slug                    string          `json:"slug"`
					Flavor                  string          `json:"flavor" validate:"required,oneof=BRIDGED LPP_CAPPED LP MILESTONE"`
					RecipientAddress        string          `json:"recipient_address"`
					ReviewerAddress         string          `json:"reviewer_address"`
					CampaignReviewerAddress string          `json:"campaign_reviewer_address"`
					CampaignID              string          `json:"campaign_id" validate:"required"`
					TokenSymbol             string          `json:"token_symbol" validate:"required"`
					Amount                  decimal.Decimal `json:"amount"`
					Cap                     decimal.Decimal `json:"cap"`
				} `json:"trace" validate:"required"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			t := &domain.Trace{
				Title:                   req.Trace.Title,
				Slug:                    req.Trace.Slug,
				Flavor:                  domain.TraceFlavor(req.Trace.Flavor),
				RecipientAddress:        req.Trace.RecipientAddress,
				ReviewerAddress:         req.Trace.ReviewerAddress,
				CampaignReviewerAddress: req.Trace.CampaignReviewerAddress,
				CampaignID:              req.Trace.CampaignID,
				TokenSymbol:             req.Trace.TokenSymbol,
				Amount:                  req.Trace.Amount,
				Cap:                     req.Trace.Cap,
			}
			created, err := svcFor(domain.Proof{}, false).ProposeTrace(r.Context(), t, req.Actor.actor())
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "trace": created})
		})

		api.Get("/{trace_id}", func(w http.ResponseWriter, r *http.Request) {
			t, err := st.GetTrace(r.Context(), chi.URLParam(r, "trace_id"))
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "trace": t})
		})

		api.Post("/{trace_id}/accept", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
				Proof domain.Proof `json:"proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			svc := svcFor(req.Proof, true)
			transition(w, r, traceID, func(ctx context.Context) (<-chan pipeline.Event, error) {
				return svc.AcceptProposedTrace(ctx, traceID, req.Actor.actor())
			})
		})

		api.Post("/{trace_id}/reject", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
				Proof domain.Proof `json:"proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			svc := svcFor(req.Proof, true)
			transition(w, r, traceID, func(ctx context.Context) (<-chan pipeline.Event, error) {
				return svc.RejectProposedTrace(ctx, traceID, req.Actor.actor())
			})
		})

		api.Delete("/{trace_id}", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor     actorContext `json:"actor" validate:"required"`
				Confirmed bool         `json:"confirmed"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			deleted, err := svcFor(domain.Proof{}, req.Confirmed).DeleteProposedTrace(r.Context(), traceID, req.Actor.actor())
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "deleted": deleted})
		})

		api.Post("/{trace_id}/request-mark-complete", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor               actorContext `json:"actor" validate:"required"`
				Proof               domain.Proof `json:"proof"`
				Evidence            any          `json:"evidence"`
				ConfirmZeroDonation bool         `json:"confirm_zero_donation"`
				SkipLowFundingCheck bool         `json:"skip_low_funding_check"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			if req.Evidence != nil && req.Proof.EvidenceRef == "" {
				ref, err := evidence.CanonicalRef(req.Evidence)
				if err != nil {
					httpx.WriteError(w, 400, "BAD_EVIDENCE", err.Error(), nil)
					return
				}
				req.Proof.EvidenceRef = ref
			}
			svc := svcFor(req.Proof, req.ConfirmZeroDonation)
			transition(w, r, traceID, func(ctx context.Context) (<-chan pipeline.Event, error) {
				return svc.RequestMarkComplete(ctx, traceID, req.Actor.actor(), req.SkipLowFundingCheck)
			})
		})

		api.Post("/{trace_id}/approve-completion", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
				Proof domain.Proof `json:"proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			svc := svcFor(req.Proof, true)
			transition(w, r, traceID, func(ctx context.Context) (<-chan pipeline.Event, error) {
				return svc.ApproveTraceCompletion(ctx, traceID, req.Actor.actor())
			})
		})

		api.Post("/{trace_id}/reject-completion", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
				Proof domain.Proof `json:"proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			svc := svcFor(req.Proof, true)
			transition(w, r, traceID, func(ctx context.Context) (<-chan pipeline.Event, error) {
				return svc.RejectTraceCompletion(ctx, traceID, req.Actor.actor())
			})
		})

		api.Post("/{trace_id}/edit", func(w http.ResponseWriter, r *http.Request) {
			traceID := chi.URLParam(r, "trace_id")
			var req struct {
				Actor actorContext `json:"actor" validate:"required"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := validate.Struct(req); err != nil {
				httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
				return
			}
			loc, err := svcFor(domain.Proof{}, false).EditTrace(r.Context(), traceID, req.Actor.actor())
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "edit_url": loc})
		})
	})

	r.Get("/campaigns/{campaign_id}", func(w http.ResponseWriter, r *http.Request) {
		c, err := st.GetCampaign(r.Context(), chi.URLParam(r, "campaign_id"))
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "campaign": c})
	})

	r.Post("/rates/convert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Symbol string           `json:"symbol" validate:"required"`
			Date   int64            `json:"date"`
			Items  []rates.LineItem `json:"items" validate:"required,min=1"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpx.WriteError(w, 400, "VALIDATION", err.Error(), nil)
			return
		}
		ts := time.Now()
		if req.Date != 0 {
			ts = time.Unix(req.Date, 0)
		}
		conv, err := rateCache.ConvertMultiple(r.Context(), ts, req.Symbol, req.Items)
		if err != nil {
			httpx.WriteError(w, 502, "RATES_UNAVAILABLE", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "conversion": conv})
	})

	log.WithField("port", port).Info("trace service listening")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
