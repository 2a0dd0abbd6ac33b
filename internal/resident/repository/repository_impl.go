package repository

import (
	"context"

	residentdomain "github.com/aptora/aptora/internal/resident/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(p Params) residentdomain.Repository {
	return &Repository{db: p.DB}
}

func (r *Repository) ActiveResidents(ctx context.Context) ([]residentdomain.Resident, error) {
	var residents []residentdomain.Resident
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&residents).Error
	if err != nil {
		return nil, err
	}
	return residents, nil
}

func (r *Repository) ByRole(ctx context.Context, role string) ([]residentdomain.Resident, error) {
	var residents []residentdomain.Resident
	err := r.db.WithContext(ctx).
		Where("active = ? AND role = ?", true, role).
		Order("id ASC").
		Find(&residents).Error
	if err != nil {
		return nil, err
	}
	return residents, nil
}

func (r *Repository) ByIDs(ctx context.Context, ids []int64) ([]residentdomain.Resident, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var residents []residentdomain.Resident
	err := r.db.WithContext(ctx).
		Where("active = ? AND id IN ?", true, ids).
		Order("id ASC").
		Find(&residents).Error
	if err != nil {
		return nil, err
	}
	if len(residents) != len(ids) {
		return nil, residentdomain.ErrResidentNotFound
	}
	return residents, nil
}
