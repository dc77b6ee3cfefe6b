package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumastore/api/internal/messaging"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/platform/config"
	"github.com/lumastore/api/internal/repositories"
	"github.com/lumastore/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog      services.CatalogService
	Cart         services.CartService
	Checkout     services.CheckoutService
	Orders       services.OrderService
	Verification services.VerificationService
	Eligibility  services.EligibilityService
	Reviews      services.ReviewService
	Content      services.ContentService
	Counters     services.CounterService
	Audit        services.AuditLogService
	System       services.SystemService
}

// Dependencies carries the external collaborators the service layer needs
// beyond the repository registry.
type Dependencies struct {
	Gateway   *payments.Manager
	DeepLinks *messaging.DeepLinkBuilder
	Signer    services.ContentSigner
	Events    services.OrderEventPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	if auditRepo := reg.OrderAudit(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if counterRepo := reg.Counters(); counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if productRepo := reg.Products(); productRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Products: productRepo,
			Clock:    clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if cartRepo := reg.Carts(); cartRepo != nil && svc.Catalog != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Repository: cartRepo,
			Catalog:    svc.Catalog,
			Clock:      clock,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		eligibilitySvc, err := services.NewEligibilityService(services.EligibilityServiceDeps{
			Orders: ordersRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build eligibility service: %w", err)
		}
		svc.Eligibility = eligibilitySvc
	}

	if ordersRepo != nil && svc.Counters != nil && svc.Catalog != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Numbers:    svc.Counters,
			Catalog:    svc.Catalog,
			Audit:      svc.Audit,
			UnitOfWork: reg,
			Clock:      clock,
			Events:     deps.Events,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	sessions := reg.PaymentSessions()
	if svc.Orders != nil && sessions != nil && deps.Gateway != nil && deps.DeepLinks != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:    svc.Orders,
			Carts:     reg.Carts(),
			Sessions:  sessions,
			Gateway:   deps.Gateway,
			DeepLinks: deps.DeepLinks,
			Clock:     clock,
			Logger:    deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if svc.Orders != nil && ordersRepo != nil && sessions != nil && deps.Gateway != nil {
		verificationSvc, err := services.NewVerificationService(services.VerificationServiceDeps{
			Orders:     svc.Orders,
			OrderStore: ordersRepo,
			Sessions:   sessions,
			Gateway:    deps.Gateway,
			Clock:      clock,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build verification service: %w", err)
		}
		svc.Verification = verificationSvc
	}

	if reviewRepo := reg.Reviews(); reviewRepo != nil && svc.Eligibility != nil {
		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews:     reviewRepo,
			Eligibility: svc.Eligibility,
			Clock:       clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if ordersRepo != nil && deps.Signer != nil && cfg.Storage.ContentBucket != "" {
		contentSvc, err := services.NewContentService(services.ContentServiceDeps{
			Orders:      ordersRepo,
			Signer:      deps.Signer,
			Bucket:      cfg.Storage.ContentBucket,
			DownloadTTL: cfg.Storage.SignedURLTTL,
			Clock:       clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build content service: %w", err)
		}
		svc.Content = contentSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
