package job

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// PoisonTopic receives messages that kept failing after all retries
const PoisonTopic = "jobs_poison"

// NewRouter wires the job processor onto subscriber. Messages still failing
// after the retries are moved to PoisonTopic on publisher.
func NewRouter(
	service *JobService,
	subscriber message.Subscriber,
	publisher message.Publisher,
	logger watermill.LoggerAdapter,
) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	poisonQueue, err := middleware.PoisonQueue(publisher, PoisonTopic)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		poisonQueue,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	router.AddNoPublisherHandler(
		"job_processor",
		Topic,
		subscriber,
		service.ProcessJobMessage,
	)

	return router, nil
}
