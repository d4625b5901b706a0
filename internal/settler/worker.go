package settler

import (
	"context"

	"go.uber.org/zap"
)

// Run is the settlement worker's main loop: consume (client, signed
// transaction) pairs from queue and dispatch each asynchronously via the
// client's fire-and-forget send. It never retries and never blocks a
// session — grounded on the teacher's Run(ctx, ...) loop shape, with the
// Redis BLPOP-and-sleep poll replaced by a blocking channel receive, its
// direct Go equivalent (a channel receive already parks the goroutine
// instead of busy-polling, so no sleep is needed between iterations).
func Run(ctx context.Context, queue Queue, log *zap.Logger) {
	log.Info("settler started")
	for {
		select {
		case <-ctx.Done():
			log.Info("settler stopped")
			return
		case req, ok := <-queue:
			if !ok {
				log.Info("settler stopped: queue closed")
				return
			}
			dispatch(ctx, req, log)
		}
	}
}

func dispatch(ctx context.Context, req Request, log *zap.Logger) {
	if err := req.Client.SendTransactionAsync(ctx, req.Transaction); err != nil {
		log.Error("settler: submit failed, dropping", zap.Error(err))
	}
}
