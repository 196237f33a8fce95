package workflows

import (
	"context"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/configs"
	"github.com/liftlog/liftsocial/internal/store"

	log "github.com/sirupsen/logrus"
)

// PruneOperator is the audit user recorded for prune runs, which need no
// unlocked identity.
const PruneOperator = "operator"

// Prune removes expired feed events, shared items and inbox envelopes from
// storage.
func Prune(ctx context.Context, cfg *configs.Config) (store.PruneResult, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return store.PruneResult{}, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnf("closing storage: %v", err)
		}
	}()

	res, err := backend.Prune(ctx, time.Now())
	if err != nil {
		return res, err
	}

	log.WithContext(ctx).WithFields(log.Fields{"events": res.Events, "envelopes": res.Envelopes, "shared": res.SharedItems}).Info("pruned expired records")
	audit.New(cfg.Audit.Path).Log(audit.Entry{UserID: PruneOperator, Operation: audit.OpPrune, Count: res.Total()})
	return res, nil
}
