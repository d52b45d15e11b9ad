package firestore

import (
	"context"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
)

// Firestore caps "in" filters at 30 values.
const maxInValues = 30

type tenantRepo struct{ r *Registry }

// FindBySlug expects slugs to be stored lower-cased.
func (t tenantRepo) FindBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	const op = "tenant.findBySlug"
	client, err := t.r.client(ctx, op)
	if err != nil {
		return domain.Tenant{}, err
	}
	iter := client.Collection(tenantsCollection).Where("slug", "==", strings.ToLower(strings.TrimSpace(slug))).Limit(1).Documents(ctx)
	snaps, err := pfirestore.All[tenantDocument](op, iter)
	if err != nil {
		return domain.Tenant{}, err
	}
	if len(snaps) == 0 {
		return domain.Tenant{}, pfirestore.NotFoundError(op, "tenant %q not found", slug)
	}
	tenant, err := snaps[0].Data.toDomain(snaps[0].ID)
	return tenant, pfirestore.WrapError(op, err)
}

func (t tenantRepo) FindByID(ctx context.Context, tenantID string) (domain.Tenant, error) {
	const op = "tenant.findByID"
	client, err := t.r.client(ctx, op)
	if err != nil {
		return domain.Tenant{}, err
	}
	doc, err := pfirestore.Get[tenantDocument](ctx, op, tenantDoc(client, tenantID))
	if err != nil {
		return domain.Tenant{}, err
	}
	tenant, err := doc.toDomain(tenantID)
	return tenant, pfirestore.WrapError(op, err)
}

type vendorRepo struct{ r *Registry }

func (v vendorRepo) FindByID(ctx context.Context, tenantID, vendorID string) (domain.Vendor, error) {
	const op = "vendor.findByID"
	client, err := v.r.client(ctx, op)
	if err != nil {
		return domain.Vendor{}, err
	}
	doc, err := pfirestore.Get[vendorDocument](ctx, op, tenantCollection(client, tenantID, vendorsCollection).Doc(vendorID))
	if err != nil {
		return domain.Vendor{}, err
	}
	vendor, err := doc.toDomain(tenantID, vendorID)
	return vendor, pfirestore.WrapError(op, err)
}

type productRepo struct{ r *Registry }

func (p productRepo) FindByID(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	const op = "product.findByID"
	client, err := p.r.client(ctx, op)
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := pfirestore.Get[productDocument](ctx, op, tenantCollection(client, tenantID, productsCollection).Doc(productID))
	if err != nil {
		return domain.Product{}, err
	}
	product, err := doc.toDomain(tenantID, productID)
	return product, pfirestore.WrapError(op, err)
}

type promotionRepo struct{ r *Registry }

// ListAutomatic filters the date window in memory; Firestore cannot range over two fields at once.
func (p promotionRepo) ListAutomatic(ctx context.Context, tenantID string, at time.Time) ([]domain.Promotion, error) {
	const op = "promotion.listAutomatic"
	client, err := p.r.client(ctx, op)
	if err != nil {
		return nil, err
	}
	iter := tenantCollection(client, tenantID, promotionsCollection).
		Where("automatic", "==", true).
		Where("active", "==", true).
		Documents(ctx)
	snaps, err := pfirestore.All[promotionDocument](op, iter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Promotion, 0, len(snaps))
	for _, snap := range snaps {
		promo, err := snap.Data.toDomain(tenantID, snap.ID)
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		if !at.IsZero() && !promo.ActiveAt(at) {
			continue
		}
		out = append(out, promo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p promotionRepo) FindByCodes(ctx context.Context, tenantID string, codes []string) (map[string]domain.Promotion, error) {
	const op = "promotion.findByCodes"
	out := map[string]domain.Promotion{}
	wanted := normaliseCodes(codes)
	if len(wanted) == 0 {
		return out, nil
	}
	client, err := p.r.client(ctx, op)
	if err != nil {
		return nil, err
	}
	coll := tenantCollection(client, tenantID, promotionsCollection)
	for start := 0; start < len(wanted); start += maxInValues {
		end := min(start+maxInValues, len(wanted))
		snaps, err := pfirestore.All[promotionDocument](op, coll.Where("codeUpper", "in", wanted[start:end]).Documents(ctx))
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			promo, err := snap.Data.toDomain(tenantID, snap.ID)
			if err != nil {
				return nil, pfirestore.WrapError(op, err)
			}
			out[strings.ToUpper(promo.Code)] = promo
		}
	}
	return out, nil
}

func normaliseCodes(codes []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range codes {
		code := strings.ToUpper(strings.TrimSpace(c))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

type partnerRepo struct{ r *Registry }

func (p partnerRepo) ActiveForTenant(ctx context.Context, tenantID, capability string) (domain.PaymentPartner, error) {
	const op = "paymentPartner.active"
	client, err := p.r.client(ctx, op)
	if err != nil {
		return domain.PaymentPartner{}, err
	}
	iter := tenantCollection(client, tenantID, partnersCollection).
		Where("active", "==", true).
		Where("capabilities", "array-contains", capability).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(1).
		Documents(ctx)
	snaps, err := pfirestore.All[partnerDocument](op, iter)
	if err != nil {
		return domain.PaymentPartner{}, err
	}
	if len(snaps) == 0 {
		return domain.PaymentPartner{}, pfirestore.NotFoundError(op, "no active %s partner for tenant %q", capability, tenantID)
	}
	doc := snaps[0].Data
	return domain.PaymentPartner{
		ID:           snaps[0].ID,
		TenantID:     tenantID,
		Provider:     doc.Provider,
		AccountID:    doc.AccountID,
		Active:       doc.Active,
		Capabilities: doc.Capabilities,
	}, nil
}

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type counterRepo struct{ r *Registry }

func (c counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counter.next"
	if err := repositories.ValidateCounterStep(counterID, step); err != nil {
		return 0, err
	}
	client, err := c.r.client(ctx, op)
	if err != nil {
		return 0, err
	}
	ref := client.Collection(countersCollection).Doc(counterID)

	var next int64
	err = c.r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := pfirestore.GetTx[counterDocument](tx, op, ref)
		switch {
		case pfirestore.IsNotFound(err):
			next = step
			return tx.Create(ref, counterDocument{Value: next, UpdatedAt: c.r.clock()})
		case err != nil:
			return err
		}
		next = doc.Value + step
		return tx.Set(ref, counterDocument{Value: next, UpdatedAt: c.r.clock()})
	})
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	return next, nil
}
