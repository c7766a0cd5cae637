package service

import (
	"context"
	"errors"
	"strings"

	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

type ProfileRequest struct {
	DisplayName string `json:"display_name" validate:"omitempty,max=80"`
	PhotoURL    string `json:"photo_url,omitempty" validate:"omitempty,url"`
	AgeGroup    string `json:"age_group,omitempty" validate:"omitempty,max=20"`
}

type ProfileService struct {
	users  storage.UserRepository
	logger internal.Logger
}

func NewProfileService(users storage.UserRepository, logger internal.Logger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

// GetProfile returns the stored profile, or one derived from the auth
// identity when none has been saved.
func (s *ProfileService) GetProfile(ctx context.Context, user *internal.User) (*internal.UserProfile, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	p, err := s.users.GetProfile(ctx, user.ID)
	if errors.Is(err, internal.ErrNotFound) {
		return &internal.UserProfile{
			ID:               user.ID,
			DisplayName:      user.Name,
			Email:            user.Email,
			MembershipStatus: internal.MembershipFree,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.MembershipStatus == "" {
		p.MembershipStatus = internal.MembershipFree
	}
	return p, nil
}

func (s *ProfileService) UpdateProfile(ctx context.Context, user *internal.User, req *ProfileRequest) (*internal.UserProfile, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	p, err := s.GetProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	if req.DisplayName != "" {
		p.DisplayName = req.DisplayName
	}
	p.PhotoURL = req.PhotoURL
	p.AgeGroup = strings.TrimSpace(req.AgeGroup)
	if err := s.users.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
