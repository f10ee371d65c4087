package workflow

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// ValidationError rejects a finalize request before any side effects.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// FinalizeRequest is the caller's view of one order-finalization call. Header
// fields are advisory; the stored order header wins when it can be read.
type FinalizeRequest struct {
	OrderId            string                 `json:"order_id" binding:"required"`
	WarehouseName      string                 `json:"warehouse_name"`
	IsVatOrder         bool                   `json:"is_vat_order"`
	CustomerIndustry   string                 `json:"customer_industry"`
	PaymentTerms       string                 `json:"payment_terms"`
	DistrictLeadShifts int                    `json:"district_lead_shifts"`
	Lines              []*models.NewOrderLine `json:"lines" binding:"required,min=1,dive"`
}

type FailedLine struct {
	ProductCode string `json:"product_code"`
	Error       string `json:"error"`
}

// FinalizeReport is the synchronous outcome of a finalize call. On timeout the
// caller gets TimedOut with the tracking job id and polls for the rest.
type FinalizeReport struct {
	Success        bool                `json:"success"`
	PartialSuccess bool                `json:"partial_success"`
	TimedOut       bool                `json:"timed_out,omitempty"`
	JobId          string              `json:"job_id"`
	SavedLines     []*models.OrderLine `json:"saved_lines"`
	FailedLines    []FailedLine        `json:"failed_lines"`
	TotalRequested int                 `json:"total_requested"`
	TotalSaved     int                 `json:"total_saved"`
	TotalFailed    int                 `json:"total_failed"`
	BackgroundJobs []string            `json:"background_jobs"`
}

// Engine drives a finalize request through validating, resolving and
// persisting, then hands follow-up work to the queue.
type Engine struct {
	store         Store
	ledger        *InventoryLedger
	jobs          *models.JobStore
	notifications *models.NotificationStore
	queue         *Queue
	logger        *logrus.Logger

	batchSize            int
	maxConcurrentBatches int
	requestTimeout       time.Duration
}

func NewEngine(store Store, ledger *InventoryLedger, jobs *models.JobStore, notifications *models.NotificationStore, queue *Queue, logger *logrus.Logger) *Engine {
	return &Engine{
		store:                store,
		ledger:               ledger,
		jobs:                 jobs,
		notifications:        notifications,
		queue:                queue,
		logger:               logger,
		batchSize:            envInt("FINALIZE_BATCH_SIZE", 5),
		maxConcurrentBatches: envInt("FINALIZE_MAX_CONCURRENT_BATCHES", 2),
		requestTimeout:       time.Duration(envInt("FINALIZE_TIMEOUT_SECONDS", 25)) * time.Second,
	}
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// Finalize races the pipeline against the request deadline. On expiry the
// caller is told to poll the tracking job; in-flight batches are not
// cancelled and keep updating the job record until the pipeline settles.
func (e *Engine) Finalize(ctx context.Context, req *FinalizeRequest, userId string) (*FinalizeReport, error) {
	e.jobs.Purge()

	job := e.jobs.Create(models.JobTypeOrderFinalize)

	type outcome struct {
		report *FinalizeReport
		err    error
	}
	done := make(chan outcome, 1)

	pipelineCtx := context.WithoutCancel(ctx)
	go func() {
		report, err := e.run(pipelineCtx, req, job.ID, userId)
		if err != nil {
			e.jobs.Fail(job.ID, err.Error())
		} else {
			e.jobs.Complete(job.ID, report)
		}
		done <- outcome{report: report, err: err}
	}()

	select {
	case out := <-done:
		return out.report, out.err
	case <-time.After(e.requestTimeout):
		return &FinalizeReport{
			TimedOut:       true,
			JobId:          job.ID,
			TotalRequested: len(req.Lines),
		}, nil
	}
}

type lineState struct {
	input *models.NewOrderLine
	line  *models.OrderLine
	err   error
}

func (e *Engine) run(ctx context.Context, req *FinalizeRequest, jobId string, userId string) (*FinalizeReport, error) {
	e.jobs.MarkRunning(jobId)
	e.jobs.SetProgress(jobId, len(req.Lines), 0, "validating")

	warehouse, isVat, industry, terms, createdAt := e.headerContext(ctx, req)

	states, err := e.validateAndResolve(ctx, req, jobId, warehouse, isVat, industry, terms, createdAt)
	if err != nil {
		return nil, err
	}

	e.jobs.SetProgress(jobId, len(states), 0, "persisting")
	e.persist(ctx, states, jobId)

	report := buildReport(states, jobId)
	if !report.Success {
		return report, nil
	}

	report.BackgroundJobs = e.scheduleFollowUps(report.SavedLines, req.OrderId, warehouse, isVat, industry, userId)
	return report, nil
}

// headerContext reads the order header and merges it over the request fields.
// A missing or unreadable header degrades to the caller's values.
func (e *Engine) headerContext(ctx context.Context, req *FinalizeRequest) (warehouse string, isVat bool, industry string, terms string, createdAt time.Time) {
	warehouse = req.WarehouseName
	isVat = req.IsVatOrder
	industry = req.CustomerIndustry
	terms = req.PaymentTerms
	createdAt = time.Now()

	order, err := e.store.GetOrder(ctx, req.OrderId)
	if err != nil {
		config.LogError(e.logger, "workflow", "Engine.headerContext", "GetOrder", req.OrderId, err)
		return
	}
	if order == nil {
		return
	}
	if order.WarehouseName != "" {
		warehouse = order.WarehouseName
	}
	isVat = order.IsVatOrder
	if order.CustomerIndustry != "" {
		industry = order.CustomerIndustry
	}
	if order.PaymentTerms != "" {
		terms = order.PaymentTerms
	}
	if !order.CreatedAt.IsZero() {
		createdAt = order.CreatedAt
	}
	return
}

// validateAndResolve runs the pre-persistence phases. Unit resolution failure
// on any line aborts the whole request; every other lookup degrades per line.
func (e *Engine) validateAndResolve(ctx context.Context, req *FinalizeRequest, jobId string, warehouse string, isVat bool, industry string, terms string, createdAt time.Time) ([]*lineState, error) {
	states := make([]*lineState, len(req.Lines))
	for i, input := range req.Lines {
		if input.Quantity <= 0 {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d: quantity must be greater than zero", i+1)}
		}
		states[i] = &lineState{input: input, line: lineFromInput(input)}
	}

	// Units resolve fail-fast before any write. Lookups are shared per name.
	unitIds := make(map[string]string)
	for i, st := range states {
		if st.input.UnitId != "" {
			st.line.UnitId = st.input.UnitId
			continue
		}
		name := strings.TrimSpace(st.input.Unit)
		if name == "" {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d: unit is required", i+1)}
		}
		id, seen := unitIds[name]
		if !seen {
			unit, err := e.store.FindUnit(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("unit lookup failed for %q: %w", name, err)
			}
			if unit == nil {
				return nil, &ValidationError{Message: fmt.Sprintf("line %d: unknown unit %q", i+1, name)}
			}
			id = unit.ID
			unitIds[name] = id
		}
		st.line.UnitId = id
	}

	for _, st := range states {
		if err := st.line.ApplyTotals(); err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
	}
	orderTotal := decimal.Zero
	for _, st := range states {
		orderTotal = orderTotal.Add(st.line.Total)
	}

	// Shared per-request lookup caches. One query per distinct key, reused
	// across every line sharing it.
	var (
		cacheMu  sync.Mutex
		products = make(map[string]*models.Product)
		quotes   = make(map[string]string)
		stock    = make(map[string]*decimal.Decimal)
	)
	lookupProduct := func(code string) *models.Product {
		cacheMu.Lock()
		p, seen := products[code]
		cacheMu.Unlock()
		if seen {
			return p
		}
		p, err := e.store.FindProduct(ctx, code)
		if err != nil {
			config.LogError(e.logger, "workflow", "Engine.validateAndResolve", "FindProduct", code, err)
			p = nil
		}
		cacheMu.Lock()
		products[code] = p
		cacheMu.Unlock()
		return p
	}
	lookupQuote := func(productId string, unitId string) string {
		key := productId + "|" + unitId
		cacheMu.Lock()
		id, seen := quotes[key]
		cacheMu.Unlock()
		if seen {
			return id
		}
		quote, err := e.store.FindQuote(ctx, productId, unitId)
		if err != nil {
			config.LogError(e.logger, "workflow", "Engine.validateAndResolve", "FindQuote", key, err)
		}
		if quote != nil {
			id = quote.ID
		}
		cacheMu.Lock()
		quotes[key] = id
		cacheMu.Unlock()
		return id
	}
	lookupStock := func(code string) *decimal.Decimal {
		cacheMu.Lock()
		qty, seen := stock[code]
		cacheMu.Unlock()
		if seen {
			return qty
		}
		qty, err := e.ledger.Available(ctx, code, warehouse, isVat)
		if err != nil {
			config.LogError(e.logger, "workflow", "Engine.validateAndResolve", "Available", code, err)
			qty = nil
		}
		cacheMu.Lock()
		stock[code] = qty
		cacheMu.Unlock()
		return qty
	}

	resolver := NewPromotionResolver(e.store, e.logger, req.OrderId)
	siblings := make([]*models.OrderLine, len(states))
	for i, st := range states {
		siblings[i] = st.line
	}

	// Eager sufficiency check per distinct product, quantity aggregated
	// across lines. A failing product marks its lines failed; siblings
	// continue. The check result is shared across lines of the same product.
	requested := make(map[string]decimal.Decimal)
	for _, st := range states {
		code := st.line.ProductCode
		requested[code] = requested[code].Add(decimal.NewFromInt(int64(st.line.Quantity)))
	}
	checks := make(map[string]error)
	checkStock := func(code string, groupCode string) error {
		cacheMu.Lock()
		result, seen := checks[code]
		cacheMu.Unlock()
		if seen {
			return result
		}
		result = e.ledger.Check(ctx, code, requested[code], warehouse, isVat, groupCode)
		cacheMu.Lock()
		checks[code] = result
		cacheMu.Unlock()
		return result
	}

	e.jobs.SetProgress(jobId, len(states), 0, "resolving")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchSize)
	for _, st := range states {
		st := st
		g.Go(func() error {
			line := st.line

			if p := lookupProduct(line.ProductCode); p != nil {
				line.ProductId = p.ID
				if line.ProductGroupCode == "" {
					line.ProductGroupCode = p.GroupCode
				}
			}
			if line.ProductId != "" && line.UnitId != "" {
				line.QuoteId = lookupQuote(line.ProductId, line.UnitId)
			}

			line.PromotionId = resolver.Resolve(gctx, line, orderTotal, terms, time.Now())

			stockQty := lookupStock(line.ProductCode)
			if warehouse != "" {
				if err := checkStock(line.ProductCode, line.ProductGroupCode); err != nil {
					st.err = err
					return nil
				}
			}

			date, shift := Schedule(ScheduleRequest{
				Quantity:           line.Quantity,
				TheoreticalStock:   stockQty,
				PromotionName:      line.PromotionLabel,
				BaseDeliveryDate:   st.input.DeliveryDate,
				Siblings:           siblings,
				CustomerIndustry:   industry,
				OrderCreatedAt:     createdAt,
				WarehouseCode:      warehouse,
				DistrictLeadShifts: req.DistrictLeadShifts,
			})
			if date == nil {
				now := time.Now()
				fallback := models.ShiftFromHour(now.Hour())
				date, shift = &now, &fallback
			}
			line.DeliveryDate = date
			line.DeliveryShift = shift
			return nil
		})
	}
	_ = g.Wait()

	return states, nil
}

func lineFromInput(in *models.NewOrderLine) *models.OrderLine {
	return &models.OrderLine{
		ID:                in.ID,
		ProductCode:       in.ProductCode,
		ProductGroupCode:  in.ProductGroupCode,
		CategoryLabel:     in.CategoryLabel,
		Unit:              in.Unit,
		UnitId:            in.UnitId,
		Quantity:          in.Quantity,
		UnitPrice:         in.UnitPrice,
		DiscountedPrice:   in.DiscountedPrice,
		DiscountPct:       in.DiscountPct,
		DiscountAmount:    in.DiscountAmount,
		SecondaryDiscount: in.SecondaryDiscount,
		VatPct:            in.VatPct,
		PromotionId:       in.PromotionId,
		PromotionLabel:    in.PromotionLabel,
		ApproverId:        in.ApproverId,
		IsApproved:        in.IsApproved,
	}
}

// persist writes lines in fixed-size batches admitted wave by wave. Lines
// within a batch save in parallel; wave N+1 waits for wave N to settle. A
// line's failure never aborts its siblings.
func (e *Engine) persist(ctx context.Context, states []*lineState, jobId string) {
	pending := make([]*lineState, 0, len(states))
	for _, st := range states {
		if st.err == nil {
			pending = append(pending, st)
		}
	}

	var batches [][]*lineState
	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batches = append(batches, pending[start:end])
	}

	completed := 0
	for wave := 0; wave < len(batches); wave += e.maxConcurrentBatches {
		waveEnd := wave + e.maxConcurrentBatches
		if waveEnd > len(batches) {
			waveEnd = len(batches)
		}

		var g errgroup.Group
		for _, batch := range batches[wave:waveEnd] {
			batch := batch
			g.Go(func() error {
				var wg sync.WaitGroup
				for _, st := range batch {
					st := st
					wg.Add(1)
					go func() {
						defer wg.Done()
						st.err = e.persistLine(ctx, st.line)
					}()
				}
				wg.Wait()
				return nil
			})
		}
		_ = g.Wait()

		for _, batch := range batches[wave:waveEnd] {
			completed += len(batch)
		}
		e.jobs.SetProgress(jobId, len(states), completed, "persisting")
	}
}

func (e *Engine) persistLine(ctx context.Context, line *models.OrderLine) error {
	if line.ID == "" {
		created, err := e.store.CreateOrderLine(ctx, line)
		if err != nil {
			return err
		}
		if created != nil && created.ID != "" {
			line.ID = created.ID
		}
		return nil
	}
	return e.store.UpdateOrderLine(ctx, line)
}

func buildReport(states []*lineState, jobId string) *FinalizeReport {
	report := &FinalizeReport{
		JobId:          jobId,
		TotalRequested: len(states),
	}
	for _, st := range states {
		if st.err != nil {
			report.FailedLines = append(report.FailedLines, FailedLine{
				ProductCode: st.line.ProductCode,
				Error:       st.err.Error(),
			})
			continue
		}
		report.SavedLines = append(report.SavedLines, st.line)
	}
	report.TotalSaved = len(report.SavedLines)
	report.TotalFailed = len(report.FailedLines)
	report.Success = report.TotalFailed == 0
	report.PartialSuccess = report.TotalSaved > 0 && report.TotalFailed > 0
	return report
}

// scheduleFollowUps enqueues the post-response jobs. Only called when every
// line saved; a partial batch gets no background work.
func (e *Engine) scheduleFollowUps(savedLines []*models.OrderLine, orderId string, warehouse string, isVat bool, industry string, userId string) []string {
	var jobIds []string

	if warehouse != "" && len(savedLines) > 0 {
		job := e.jobs.Create(models.JobTypeInventorySettlement)
		jobIds = append(jobIds, job.ID)
		lines := savedLines
		e.queue.Enqueue(Task{
			JobId:  job.ID,
			UserId: userId,
			Title:  "Inventory settlement",
			Run: func(ctx context.Context) (any, error) {
				return e.settleInventory(ctx, job.ID, lines, warehouse, isVat)
			},
		})
	}

	if strings.EqualFold(strings.TrimSpace(industry), industryShop) && hasBulkCategory(savedLines) {
		job := e.jobs.Create(models.JobTypeHeaderUpdate)
		jobIds = append(jobIds, job.ID)
		e.queue.Enqueue(Task{
			JobId:  job.ID,
			UserId: userId,
			Title:  "Order header update",
			Run: func(ctx context.Context) (any, error) {
				err := e.store.PatchOrderHeader(ctx, orderId, map[string]any{
					"requires_delivery_review": true,
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"order_id": orderId}, nil
			},
		})
	}

	return jobIds
}

func hasBulkCategory(lines []*models.OrderLine) bool {
	for _, line := range lines {
		if categoryOf(line.CategoryLabel) != bulkNone {
			return true
		}
	}
	return false
}

type productGroup struct {
	productCode string
	groupCode   string
	quantity    decimal.Decimal
}

const settlementSubBatchSize = 3

// settleInventory aggregates saved lines by product and reserves stock per
// distinct product in small parallel sub-batches. Failures are isolated per
// product and aggregated into the job result; any failure fails the job.
func (e *Engine) settleInventory(ctx context.Context, jobId string, lines []*models.OrderLine, warehouse string, isVat bool) (any, error) {
	byProduct := make(map[string]*productGroup)
	var order []string
	for _, line := range lines {
		g, ok := byProduct[line.ProductCode]
		if !ok {
			g = &productGroup{productCode: line.ProductCode, groupCode: line.ProductGroupCode}
			byProduct[line.ProductCode] = g
			order = append(order, line.ProductCode)
		}
		g.quantity = g.quantity.Add(decimal.NewFromInt(int64(line.Quantity)))
	}

	total := len(order)
	e.jobs.SetProgress(jobId, total, 0, "settling")

	var (
		mu       sync.Mutex
		failures = make(map[string]string)
		done     int
	)
	for start := 0; start < total; start += settlementSubBatchSize {
		end := start + settlementSubBatchSize
		if end > total {
			end = total
		}

		var g errgroup.Group
		for _, code := range order[start:end] {
			grp := byProduct[code]
			g.Go(func() error {
				err := e.ledger.Reserve(ctx, grp.productCode, grp.quantity, warehouse, isVat, grp.groupCode, false)
				mu.Lock()
				if err != nil {
					failures[grp.productCode] = err.Error()
				}
				done++
				progress := done
				mu.Unlock()
				e.jobs.SetProgress(jobId, total, progress, "settling "+grp.productCode)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := map[string]any{
		"products_total":  total,
		"products_failed": len(failures),
		"failures":        failures,
	}
	if len(failures) > 0 {
		e.jobs.SetProgress(jobId, total, total, "settled with failures")
		return result, fmt.Errorf("settlement failed for %d of %d products", len(failures), total)
	}
	e.jobs.SetProgress(jobId, total, total, "settled")
	return result, nil
}
