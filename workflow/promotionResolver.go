package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

// PromotionResolver resolves the promotion applicable to one order line. One
// resolver is built per finalization request; its snapshot cache lives exactly
// that long so a promotion id is never fetched twice within a request.
type PromotionResolver struct {
	store   Store
	logger  *logrus.Logger
	orderId string

	mu           sync.Mutex
	cache        map[string]*models.PromotionCandidate
	headerPromos []*models.PromotionCandidate
	headerLoaded bool

	bindMu sync.Mutex
}

func NewPromotionResolver(store Store, logger *logrus.Logger, orderId string) *PromotionResolver {
	return &PromotionResolver{
		store:   store,
		logger:  logger,
		orderId: orderId,
		cache:   make(map[string]*models.PromotionCandidate),
	}
}

// Resolve runs the candidate strategies in priority order, first valid match
// wins. A rejected candidate is cleared and the next strategy is tried; no
// strategy failure ever fails the line.
func (r *PromotionResolver) Resolve(ctx context.Context, line *models.OrderLine, orderTotal decimal.Decimal, paymentTerms string, at time.Time) string {
	orderTerms := utils.SplitTerms(paymentTerms)

	// 1. Caller override.
	if line.PromotionId != "" {
		if p := r.getPromotion(ctx, line.PromotionId); r.validate(p, orderTotal, orderTerms, at) {
			return r.bind(ctx, p.ID)
		}
	}

	// 2. Promotions already associated with the order header.
	for _, p := range r.orderPromotions(ctx) {
		if !matchesCodeList(p.ProductCodes, line.ProductCode) && !matchesCodeList(p.ProductGroupCodes, line.ProductGroupCode) {
			continue
		}
		if r.validate(p, orderTotal, orderTerms, at) {
			return r.bind(ctx, p.ID)
		}
	}

	// 3. Free-text label.
	label := strings.TrimSpace(line.PromotionLabel)
	if label != "" {
		p, err := r.store.FindPromotionByLabel(ctx, label)
		if err != nil {
			config.LogError(r.logger, "workflow", "PromotionResolver.Resolve", "FindPromotionByLabel", label, err)
		} else if r.validate(p, orderTotal, orderTerms, at) {
			r.remember(p)
			return r.bind(ctx, p.ID)
		}
	}

	// 4. Scored lookup correlating product code and label.
	if line.ProductCode != "" {
		candidates, err := r.store.SearchPromotions(ctx, line.ProductCode, label)
		if err != nil {
			config.LogError(r.logger, "workflow", "PromotionResolver.Resolve", "SearchPromotions", line.ProductCode, err)
			return ""
		}
		for _, p := range rankCandidates(candidates, line.ProductCode, label) {
			if r.validate(p, orderTotal, orderTerms, at) {
				r.remember(p)
				return r.bind(ctx, p.ID)
			}
		}
	}

	return ""
}

// validate applies the eligibility gates every candidate must pass before
// binding: minimum order total, payment-term intersection, window, active.
func (r *PromotionResolver) validate(p *models.PromotionCandidate, orderTotal decimal.Decimal, orderTerms []string, at time.Time) bool {
	if p == nil {
		return false
	}
	if p.MinOrderTotal.GreaterThan(orderTotal) {
		return false
	}
	if !utils.TermsIntersect(p.AllowedTerms(), orderTerms) {
		return false
	}
	if !p.InWindow(at) {
		return false
	}
	return p.IsActive()
}

// bind records the promotion usage against the order header. Lines within one
// request serialize under bindMu so at most one runs check-then-create per
// resolver. Check-then-create races with a concurrent finalization are still
// tolerated: if the create fails but a usage record exists on re-check, the
// other writer won and that is fine.
func (r *PromotionResolver) bind(ctx context.Context, promotionId string) string {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	usage, err := r.store.FindUsageRecord(ctx, r.orderId, promotionId)
	if err != nil {
		config.LogError(r.logger, "workflow", "PromotionResolver.bind", "FindUsageRecord", promotionId, err)
		return promotionId
	}
	if usage != nil {
		return promotionId
	}
	if err := r.store.CreateUsageRecord(ctx, r.orderId, promotionId); err != nil {
		if again, findErr := r.store.FindUsageRecord(ctx, r.orderId, promotionId); findErr == nil && again != nil {
			return promotionId
		}
		config.LogError(r.logger, "workflow", "PromotionResolver.bind", "CreateUsageRecord", promotionId, err)
	}
	return promotionId
}

func (r *PromotionResolver) getPromotion(ctx context.Context, id string) *models.PromotionCandidate {
	r.mu.Lock()
	if p, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	// Cross-request snapshot cache in redis, best effort.
	var cached models.PromotionCandidate
	if found, err := config.GetRedisObject("Promotion:"+id, &cached); err == nil && found {
		r.remember(&cached)
		return &cached
	}

	p, err := r.store.GetPromotion(ctx, id)
	if err != nil {
		config.LogError(r.logger, "workflow", "PromotionResolver.getPromotion", "GetPromotion", id, err)
		return nil
	}
	if p == nil {
		return nil
	}
	r.remember(p)
	_ = config.SetRedisObject("Promotion:"+p.ID, p, 5*time.Minute)
	return p
}

func (r *PromotionResolver) remember(p *models.PromotionCandidate) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.cache[p.ID] = p
	r.mu.Unlock()
}

func (r *PromotionResolver) orderPromotions(ctx context.Context) []*models.PromotionCandidate {
	r.mu.Lock()
	if r.headerLoaded {
		promos := r.headerPromos
		r.mu.Unlock()
		return promos
	}
	r.mu.Unlock()

	promos, err := r.store.ListOrderPromotions(ctx, r.orderId)
	if err != nil {
		config.LogError(r.logger, "workflow", "PromotionResolver.orderPromotions", "ListOrderPromotions", r.orderId, err)
		promos = nil
	}

	r.mu.Lock()
	r.headerLoaded = true
	r.headerPromos = promos
	for _, p := range promos {
		r.cache[p.ID] = p
	}
	r.mu.Unlock()
	return promos
}

// matchesCodeList reports whether a code appears in a multi-valued code list,
// token by token, substring in either direction. Upstream code lists mix
// exact codes and prefixes.
func matchesCodeList(list string, code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	for _, token := range utils.SplitTerms(list) {
		if strings.Contains(token, code) || strings.Contains(code, token) {
			return true
		}
	}
	return false
}

// rankCandidates scores the broad-lookup candidates: a product-code match
// outweighs a label match. Candidates that match neither are dropped.
func rankCandidates(candidates []*models.PromotionCandidate, productCode string, label string) []*models.PromotionCandidate {
	type scored struct {
		p     *models.PromotionCandidate
		score int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		score := 0
		if matchesCodeList(p.ProductCodes, productCode) {
			score += 2
		}
		if label != "" && strings.Contains(strings.ToUpper(p.Name), strings.ToUpper(label)) {
			score++
		}
		if score > 0 {
			ranked = append(ranked, scored{p: p, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]*models.PromotionCandidate, len(ranked))
	for i, s := range ranked {
		out[i] = s.p
	}
	return out
}
