package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const (
	reviewIDPrefix = "rev_"

	maxReviewTitleLength = 160
	maxReviewBodyLength  = 4000
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewNotEligible indicates the user has no completed purchase of the product.
	ErrReviewNotEligible = errors.New("review: purchase required")
	// ErrReviewConflict signals duplicate submissions or conflicting updates.
	ErrReviewConflict = errors.New("review: conflict")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews          repositories.ReviewRepository
	Eligibility      EligibilityService
	Clock            func() time.Time
	IDGenerator      func() string
	Sanitizer        func(string) string
	ProfanityChecker func(string) bool
}

type reviewService struct {
	reviews     repositories.ReviewRepository
	eligibility EligibilityService
	clock       func() time.Time
	newID       func() string
	sanitize    func(string) string
	isProfane   func(string) bool
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Eligibility == nil {
		return nil, errors.New("review service: eligibility service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(input string) string {
			return normalizeReviewText(html.UnescapeString(policy.Sanitize(input)))
		}
	}
	profanity := deps.ProfanityChecker
	if profanity == nil {
		profanity = basicProfanityChecker
	}

	return &reviewService{
		reviews:     deps.Reviews,
		eligibility: deps.Eligibility,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		sanitize:  sanitize,
		isProfane: profanity,
	}, nil
}

// CreateReview submits a product review. Only users with a paid or delivered
// order containing the product may review it, once per product.
func (s *reviewService) CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	title := s.sanitize(cmd.Title)
	body := s.sanitize(cmd.Body)
	if body == "" {
		return Review{}, fmt.Errorf("%w: body is required", ErrReviewInvalidInput)
	}
	if len(title) > maxReviewTitleLength {
		return Review{}, fmt.Errorf("%w: title must be %d characters or fewer", ErrReviewInvalidInput, maxReviewTitleLength)
	}
	if len(body) > maxReviewBodyLength {
		return Review{}, fmt.Errorf("%w: body must be %d characters or fewer", ErrReviewInvalidInput, maxReviewBodyLength)
	}
	if s.isProfane(title) || s.isProfane(body) {
		return Review{}, fmt.Errorf("%w: review contains profanity", ErrReviewInvalidInput)
	}

	eligible, err := s.eligibility.IsEligible(ctx, userID, productID)
	if err != nil {
		return Review{}, err
	}
	if !eligible {
		return Review{}, fmt.Errorf("%w: product %s", ErrReviewNotEligible, productID)
	}

	if err := s.ensureNoExistingReview(ctx, userID, productID); err != nil {
		return Review{}, err
	}

	now := s.clock()
	review := domain.Review{
		ID:        s.newID(),
		UserID:    userID,
		ProductID: productID,
		Rating:    cmd.Rating,
		Title:     title,
		Body:      body,
		Status:    domain.ReviewStatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}
	return created, nil
}

func (s *reviewService) ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Review], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) ensureNoExistingReview(ctx context.Context, userID, productID string) error {
	_, err := s.reviews.FindByUserProduct(ctx, userID, productID)
	if err == nil {
		return fmt.Errorf("%w: review already exists for product", ErrReviewConflict)
	}
	if isRepoNotFound(err) {
		return nil
	}
	return s.mapReviewError(err)
}

func (s *reviewService) mapReviewError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReviewNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReviewConflict, err)
		}
	}
	return err
}

var defaultProfanityTerms = map[string]struct{}{
	"ass":     {},
	"asshole": {},
	"bastard": {},
	"bitch":   {},
	"bloody":  {},
	"damn":    {},
	"fuck":    {},
	"fucker":  {},
	"fucking": {},
	"shit":    {},
	"shitty":  {},
	"slut":    {},
	"whore":   {},
}

func basicProfanityChecker(input string) bool {
	if input == "" {
		return false
	}

	normalized := strings.ToLower(input)
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})

	for _, word := range words {
		if _, ok := defaultProfanityTerms[word]; ok {
			return true
		}
	}
	return false
}

// normalizeReviewText trims whitespace, strips control characters, and
// normalises spacing while preserving intentional newlines.
func normalizeReviewText(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	result := strings.Join(lines, "\n")
	return strings.TrimSpace(result)
}

var _ ReviewService = (*reviewService)(nil)
