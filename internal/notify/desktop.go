package notify

import (
	"context"
	"errors"

	"fyne.io/fyne/v2"
)

// DesktopNotifier shows the reminder as a native desktop notification.
type DesktopNotifier struct {
	app     fyne.App
	heading string
}

// NewDesktopNotifier sends through app. The heading is the notification
// title; the event title becomes the body, as on the phone.
func NewDesktopNotifier(app fyne.App, heading string) *DesktopNotifier {
	if heading == "" {
		heading = DefaultTitle
	}
	return &DesktopNotifier{app: app, heading: heading}
}

func (d *DesktopNotifier) Notify(ctx context.Context, text string) error {
	if d.app == nil {
		return errors.New("desktop notifier has no app")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.app.SendNotification(fyne.NewNotification(d.heading, text))
	return nil
}
