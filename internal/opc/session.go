package opc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// simaticNamespaceURI is the vendor namespace holding the structured type
// definitions for the monitored node.
const simaticNamespaceURI = "http://www.siemens.com/simatic-s7-opcua"

// samplingInterval is the fixed data-change sampling interval requested from
// the server.
const samplingInterval = 1000 * time.Millisecond

// Dial connects to the OPC UA server, resolves the monitored node inside the
// vendor namespace and registers a data-change subscription on it. The
// returned session is discarded on any error before the next retry.
func Dial(ctx context.Context, serverURL, monitorNode string) (Session, error) {
	slog.Info("connecting to opc ua server", "url", serverURL)

	client, err := opcua.NewClient(serverURL, opcua.SecurityMode(ua.MessageSecurityModeNone))
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", serverURL, err)
	}

	s := &uaSession{
		client: client,
		// Quoting characters in the upstream identifier are not part of
		// the published node ID.
		nodeID: strings.ReplaceAll(monitorNode, `"`, ""),
	}
	if err := s.subscribe(ctx, monitorNode); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}

	return s, nil
}

// uaSession implements Session on top of a gopcua client.
type uaSession struct {
	client *opcua.Client
	sub    *opcua.Subscription
	nodeID string

	raw    chan *opcua.PublishNotificationData
	out    chan Notification
	cancel context.CancelFunc
}

func (s *uaSession) subscribe(ctx context.Context, monitorNode string) error {
	ns, err := s.client.FindNamespace(ctx, simaticNamespaceURI)
	if err != nil {
		return fmt.Errorf("resolving namespace %s: %w", simaticNamespaceURI, err)
	}

	s.raw = make(chan *opcua.PublishNotificationData, 16)
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: samplingInterval,
	}, s.raw)
	if err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}
	s.sub = sub

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(
		ua.NewStringNodeID(ns, monitorNode), ua.AttributeIDValue, 1)
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return fmt.Errorf("monitoring node %s: %w", monitorNode, err)
	}
	for _, result := range res.Results {
		if result.StatusCode != ua.StatusOK {
			return fmt.Errorf("monitoring node %s: %w", monitorNode, result.StatusCode)
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.out = make(chan Notification, 1)
	go s.pump(pumpCtx)

	return nil
}

// pump forwards publish notifications from the gopcua channel as decoded
// Notifications until the session is closed.
func (s *uaSession) pump(ctx context.Context) {
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return
		case pn, ok := <-s.raw:
			if !ok {
				return
			}
			for _, n := range s.decode(pn) {
				select {
				case s.out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *uaSession) decode(pn *opcua.PublishNotificationData) []Notification {
	if pn.Error != nil {
		return []Notification{{Err: pn.Error}}
	}

	// Status-change and event notifications carry no data change.
	dcn, ok := pn.Value.(*ua.DataChangeNotification)
	if !ok {
		return nil
	}

	out := make([]Notification, 0, len(dcn.MonitoredItems))
	for _, item := range dcn.MonitoredItems {
		out = append(out, Notification{
			Change: DataChange{NodeID: s.nodeID, Value: item.Value},
		})
	}
	return out
}

func (s *uaSession) Notifications() <-chan Notification {
	return s.out
}

// CheckHealth reads the server status state attribute. A broken connection
// surfaces here even when no data changes are flowing.
func (s *uaSession) CheckHealth(ctx context.Context) error {
	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{
			NodeID:      ua.NewNumericNodeID(0, id.Server_ServerStatus_State),
			AttributeID: ua.AttributeIDValue,
		}},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		return fmt.Errorf("reading server state: %w", err)
	}
	for _, result := range resp.Results {
		if result.Status != ua.StatusOK {
			return fmt.Errorf("reading server state: %w", result.Status)
		}
	}
	return nil
}

func (s *uaSession) Close(ctx context.Context) error {
	s.cancel()

	var errs []error
	if s.sub != nil {
		if err := s.sub.Cancel(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cancelling subscription: %w", err))
		}
	}
	if err := s.client.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing client: %w", err))
	}
	return errors.Join(errs...)
}
