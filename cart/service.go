package cart

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/rs/zerolog"
)

const cartPath = "/v1/shopping-cart"

type cartRequest struct {
	MemberID  int64 `json:"memberId"`
	LectureID int64 `json:"lectureId"`
}

// Service keeps a Cart in step with the backend's shopping cart.
type Service struct {
	client transport.Doer
	cart   *Cart
	log    zerolog.Logger
}

func NewService(client transport.Doer, cart *Cart, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		cart:   cart,
		log:    logger.With().Str("component", "cart").Logger(),
	}
}

func (s *Service) Cart() *Cart {
	return s.cart
}

// AddToCart stores the lecture in the backend cart and then locally.
// A lecture already in the cart is reported as ErrConflict.
func (s *Service) AddToCart(ctx context.Context, memberID int64, item Item) error {
	if memberID == 0 {
		return apperrors.ErrNotLoggedIn
	}
	req := transport.NewRequest(http.MethodPut, cartPath, cartRequest{MemberID: memberID, LectureID: item.ID})
	if _, err := s.client.Do(ctx, req); err != nil {
		return err
	}
	s.cart.Add(item)
	s.log.Debug().Int64("lecture_id", item.ID).Msg("added to cart")
	return nil
}

// RemoveFromCart deletes the lecture from the backend cart; the local cart
// only changes when the backend accepts.
func (s *Service) RemoveFromCart(ctx context.Context, memberID, lectureID int64) error {
	if memberID == 0 {
		return apperrors.ErrNotLoggedIn
	}
	req := transport.NewRequest(http.MethodDelete, cartPath, cartRequest{MemberID: memberID, LectureID: lectureID})
	if _, err := s.client.Do(ctx, req); err != nil {
		return err
	}
	s.cart.Remove(lectureID)
	return nil
}

// Load replaces the local cart with the backend's. On failure the local cart is emptied.
func (s *Service) Load(ctx context.Context, memberID int64) ([]Item, error) {
	if memberID == 0 {
		s.cart.Clear()
		return nil, apperrors.ErrNotLoggedIn
	}

	resp, err := s.client.Do(ctx, transport.NewRequest(http.MethodGet, fmt.Sprintf("%s/%d", cartPath, memberID), nil))
	if err != nil {
		s.cart.Clear()
		return nil, err
	}

	var payload struct {
		LectureList []Item `json:"lectureList"`
	}
	if _, err := resp.DecodeData(&payload); err != nil {
		s.cart.Clear()
		return nil, fmt.Errorf("[cart Load] decode cart: %w", err)
	}

	s.cart.Set(payload.LectureList)
	return s.cart.Items(), nil
}
