package sender

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/resume-entitlement/internal/models"
)

// Publisher публикует сообщение в брокер.
type Publisher interface {
	Publish(ctx context.Context, message any) error
}

// PremiumNotifier ставит подтверждение об активации премиума в очередь.
type PremiumNotifier struct {
	pub Publisher
}

// NewPremiumNotifier создает PremiumNotifier.
func NewPremiumNotifier(pub Publisher) *PremiumNotifier {
	return &PremiumNotifier{pub: pub}
}

// PremiumActivated публикует событие активации.
func (n *PremiumNotifier) PremiumActivated(ctx context.Context, msg models.PremiumActivated) error {
	if err := n.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("sender.PremiumActivated: %w", err)
	}
	return nil
}
