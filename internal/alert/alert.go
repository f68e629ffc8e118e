// Package alert raises operator alerts for money that needs manual recovery,
// such as a payout that succeeded but could not be debited.
package alert

import (
	"context"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Alert is one operator notification.
type Alert struct {
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter delivers alerts. Implementations must not block the caller for long
// and must never fail the money-moving operation that raised the alert.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct {
	log *logrus.Entry
}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: logrus.WithField("component", "alert")}
}

func (l *LogAlerter) Alert(_ context.Context, a Alert) {
	fields := logrus.Fields{"title": a.Title}
	for k, v := range a.Fields {
		fields[k] = v
	}
	l.log.WithFields(fields).Error(a.Message)
}

// Sender is the subset of the FCM client used for alerts.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMAlerter pushes alerts to an FCM topic the operators' devices subscribe to.
type FCMAlerter struct {
	client Sender
	topic  string
	log    *logrus.Entry
}

// NewFCMAlerter initializes Firebase from a service account file.
func NewFCMAlerter(ctx context.Context, credentialsFile, topic string) (*FCMAlerter, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return NewFCMAlerterWithSender(client, topic), nil
}

func NewFCMAlerterWithSender(client Sender, topic string) *FCMAlerter {
	return &FCMAlerter{client: client, topic: topic, log: logrus.WithField("component", "alert_fcm")}
}

func (f *FCMAlerter) Alert(ctx context.Context, a Alert) {
	msg := &messaging.Message{
		Topic: f.topic,
		Notification: &messaging.Notification{
			Title: a.Title,
			Body:  a.Message,
		},
		Data: a.Fields,
	}
	if _, err := f.client.Send(ctx, msg); err != nil {
		f.log.WithFields(logrus.Fields{"title": a.Title, "error": err.Error()}).Warn("FCM alert not delivered")
	}
}

// Multi delivers to every alerter in order.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) {
	for _, al := range m {
		al.Alert(ctx, a)
	}
}
