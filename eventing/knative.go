// Package eventing connects the treasury to a Knative eventing mesh: it
// publishes lifecycle events to a sink and receives sweep triggers and voter
// roster updates.
package eventing

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pkg/errors"
	uuid "github.com/satori/uuid"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/sweeper"
	"github.com/midnightos/treasury/tracking"
	logger "github.com/ndau/go-logger"
)

const (
	source          = "midnightos/treasury"
	trackingExt     = "trackingnumber"
	publishDeadline = 5 * time.Second
)

// SweepRunner runs one sweep job by name.
type SweepRunner interface {
	Run(ctx context.Context, job string) error
}

// RosterSyncer applies a voter roster update.
type RosterSyncer interface {
	SyncVoters(ctx context.Context, voters []models.Voter, unseat []string) error
}

// KnClient -
type KnClient struct {
	sender   cloudevents.Client
	receiver cloudevents.Client
	sinkURL  string
	port     int

	// Optional: logging
	Log logger.Logger
}

// NewKnClient builds the publisher when cfg.EventSinkURL is set and the
// receiver when cfg.EventPort is positive.
func NewKnClient(cfg *models.Config, loggers ...logger.Logger) (knc *KnClient, err error) {
	// Attach an optional logger
	var log logger.Logger
	if len(loggers) > 0 {
		log = loggers[0]
	} else {
		log = &logger.NoopLogger{}
	}

	k := &KnClient{
		sinkURL: cfg.EventSinkURL,
		port:    cfg.EventPort,

		// Optional: logging
		Log: log,
	}

	if k.sinkURL != "" {
		if k.sender, err = cloudevents.NewClientHTTP(); err != nil {
			return nil, errors.Wrap(err, "failed to create event sender")
		}
	}
	if k.port > 0 {
		if k.receiver, err = cloudevents.NewClientHTTP(cloudevents.WithPort(k.port)); err != nil {
			return nil, errors.Wrap(err, "failed to create event receiver")
		}
	}
	return k, nil
}

// Publish sends one event to the sink. Failures are logged, never returned.
func (k *KnClient) Publish(ctx context.Context, eventType string, data interface{}) {
	if k.sender == nil {
		return
	}
	trackingNumber := tracking.From(ctx)

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewV4().String())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now().UTC())
	event.SetExtension(trackingExt, trackingNumber)
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		k.Log.Errorf("%s | Failed to encode %s event: %v", trackingNumber, eventType, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishDeadline)
	defer cancel()
	sendCtx = cloudevents.ContextWithTarget(sendCtx, k.sinkURL)

	if result := k.sender.Send(sendCtx, event); cloudevents.IsUndelivered(result) {
		k.Log.Errorf("%s | Failed to publish %s event: %v", trackingNumber, eventType, result)
		return
	}
	k.Log.Infof("%s | Published %s event %s", trackingNumber, eventType, event.ID())
}

// Listen receives events until ctx is done. It returns immediately when no
// event port is configured.
func (k *KnClient) Listen(ctx context.Context, sweeps SweepRunner, roster RosterSyncer) error {
	if k.receiver == nil {
		return nil
	}

	receive := func(ctx context.Context, event cloudevents.Event) error {
		// Let's create traceable context
		trackingNumber, ok := event.Extensions()[trackingExt].(string)
		if !ok || trackingNumber == "" {
			trackingNumber = uuid.NewV4().String()
		}
		thisContext := tracking.With(ctx, trackingNumber)

		k.Log.Infof("%s | Start processing event %s of type %s", trackingNumber, event.ID(), event.Type())
		if err := k.ProcessEvent(thisContext, event, sweeps, roster); err != nil {
			k.Log.Errorf("%s | Process event failed: %v", trackingNumber, err)
			return err
		}
		k.Log.Infof("%s | Processed event: %s", trackingNumber, event.ID())
		return nil
	}

	k.Log.Infof("knative is listening on port %d", k.port)
	if err := k.receiver.StartReceiver(ctx, receive); err != nil {
		return errors.Wrap(err, "failed to start event receiver")
	}
	return nil
}

// ProcessEvent dispatches one received event.
func (k *KnClient) ProcessEvent(ctx context.Context, event cloudevents.Event, sweeps SweepRunner, roster RosterSyncer) error {
	switch event.Type() {
	case models.EventSweepTally:
		return sweeps.Run(ctx, sweeper.JobTally)
	case models.EventSweepReconcile:
		return sweeps.Run(ctx, sweeper.JobReconcile)
	case models.EventSweepPayout:
		return sweeps.Run(ctx, sweeper.JobPayout)
	case models.EventVotersSync:
		var data models.RosterData
		if err := event.DataAs(&data); err != nil {
			return models.WrapError(models.KindValidation, err, "malformed roster data")
		}
		if err := roster.SyncVoters(ctx, data.Voters, data.Unseat); err != nil {
			return err
		}
		k.Log.Infof("%s | Roster synced: %d seated, %d unseated", tracking.From(ctx), len(data.Voters), len(data.Unseat))
		return nil
	default:
		k.Log.Warnf("%s | Ignoring event of unknown type %s", tracking.From(ctx), event.Type())
		return nil
	}
}
