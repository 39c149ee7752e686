package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fulfillment/internal/pkg/retry"
	"fulfillment/internal/saga/domain"
)

// Wire format of the warehouse system: one newline-framed request per
// connection, a fixed header line, KEY:VALUE lines, terminated by END.
const (
	wmsHeader     = "WMS/1.0"
	wmsTerminator = "END"

	wmsCommandAdd    = "ADD_PACKAGE"
	wmsCommandRemove = "REMOVE_PACKAGE"
)

var (
	wmsExecutePolicy    = retry.Policy{MaxAttempts: 2, Backoff: 300 * time.Millisecond}
	wmsCompensatePolicy = retry.Policy{MaxAttempts: 2, Backoff: 300 * time.Millisecond}
)

// WarehouseAdapter registers a package with the WMS over its line protocol
// and removes it again on compensation.
type WarehouseAdapter struct {
	tracer  trace.Tracer
	addr    string
	timeout time.Duration
}

func NewWarehouseAdapter(tracer trace.Tracer, addr string, timeout time.Duration) *WarehouseAdapter {
	return &WarehouseAdapter{tracer: tracer, addr: addr, timeout: timeout}
}

func (a *WarehouseAdapter) Name() domain.Step {
	return domain.StepWarehouseAdd
}

func (a *WarehouseAdapter) Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult {
	frame := buildWMSFrame(wmsCommandAdd, [][2]string{
		{"ORDER_NUMBER", req.OrderNumber},
		{"CLIENT_ID", req.ClientID},
		{"PICKUP_ADDRESS", req.PickupAddress},
		{"DELIVERY_ADDRESS", req.DeliveryAddress},
		{"PACKAGE_DESC", req.PackageDescription},
		{"PRIORITY", string(req.Priority)},
	})

	var raw, message string
	err := retry.Do(ctx, wmsExecutePolicy, func(ctx context.Context) error {
		reply, err := a.roundTrip(ctx, frame)
		if err != nil {
			return err
		}

		fields, err := parseWMSReply(reply)
		if err != nil {
			return retry.Permanent(err)
		}
		if fields["RESPONSE"] != "SUCCESS" {
			return retry.Permanent(errors.Errorf("WMS rejected package: %s", fields["MESSAGE"]))
		}

		raw = reply
		message = fmt.Sprintf("package stored at %s, tracking %s", fields["LOCATION"], fields["TRACKING"])
		return nil
	})
	if err != nil {
		return domain.StepFailure("WMS package registration failed", err.Error())
	}
	return domain.StepSuccess(message, raw)
}

func (a *WarehouseAdapter) Compensate(ctx context.Context, orderNumber string) domain.StepResult {
	frame := buildWMSFrame(wmsCommandRemove, [][2]string{
		{"ORDER_NUMBER", orderNumber},
	})

	var raw string
	err := retry.Do(ctx, wmsCompensatePolicy, func(ctx context.Context) error {
		reply, err := a.roundTrip(ctx, frame)
		if err != nil {
			return err
		}

		fields, err := parseWMSReply(reply)
		if err != nil {
			return retry.Permanent(err)
		}
		if fields["RESPONSE"] != "SUCCESS" {
			return retry.Permanent(errors.Errorf("WMS refused removal: %s", fields["MESSAGE"]))
		}

		raw = reply
		return nil
	})
	if err != nil {
		return domain.StepFailure("WMS package removal failed", err.Error())
	}
	return domain.StepSuccess("package removed from warehouse", raw)
}

// roundTrip opens one connection, writes the frame, and reads the reply up to
// END. Dial and IO failures, including deadline hits, are transient by
// definition: the WMS never half-applies a command. Each attempt gets its own
// client span, like the HTTP adapters get through httpclient.
func (a *WarehouseAdapter) roundTrip(ctx context.Context, frame string) (reply string, err error) {
	spanName := fmt.Sprintf("call-%s", strings.Split(a.addr, ":")[0])
	ctx, span := a.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("net.peer.addr", a.addr))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dialer := net.Dialer{Timeout: a.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", a.addr)
	if err != nil {
		return "", errors.Wrap(err, "dial WMS")
	}
	defer conn.Close()

	deadline := time.Now().Add(a.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", errors.Wrap(err, "set WMS deadline")
	}

	if _, err := conn.Write([]byte(frame)); err != nil {
		return "", errors.Wrap(err, "write WMS frame")
	}

	var buf strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if line == wmsTerminator {
			return buf.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read WMS reply")
	}
	return "", errors.New("WMS closed connection before END")
}

func buildWMSFrame(command string, fields [][2]string) string {
	var b strings.Builder
	b.WriteString(wmsHeader + "\n")
	b.WriteString("COMMAND:" + command + "\n")
	b.WriteString(fmt.Sprintf("TIMESTAMP:%d\n", time.Now().Unix()))
	for _, f := range fields {
		// Values must not break the framing.
		value := strings.ReplaceAll(f[1], "\n", " ")
		b.WriteString(f[0] + ":" + value + "\n")
	}
	b.WriteString(wmsTerminator + "\n")
	return b.String()
}

// parseWMSReply splits KEY:VALUE lines; values may themselves contain colons.
func parseWMSReply(reply string) (map[string]string, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimRight(reply, "\n"), "\n") {
		if line == wmsTerminator || line == wmsHeader || line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("malformed WMS reply line %q", line)
		}
		fields[parts[0]] = parts[1]
	}
	if _, ok := fields["RESPONSE"]; !ok {
		return nil, errors.New("WMS reply carries no RESPONSE line")
	}
	return fields, nil
}
