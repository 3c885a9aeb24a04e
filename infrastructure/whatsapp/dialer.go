package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/marianovz/wa-blast/config"
	"github.com/marianovz/wa-blast/domains/transport"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Dialer opens whatsmeow-backed handles, one sqlite session store per
// account under config.PathStorages.
type Dialer struct{}

func NewDialer() *Dialer {
	return &Dialer{}
}

func sessionDBURI(accountID string) string {
	return fmt.Sprintf("file:%s/whatsapp-%s.db?_foreign_keys=on", config.PathStorages, accountID)
}

func shortID(accountID string) string {
	if len(accountID) > 8 {
		return accountID[:8]
	}
	return accountID
}

func configureDeviceProps() {
	osName := fmt.Sprintf("%s %s", config.AppOs, config.AppVersion)
	store.DeviceProps.PlatformType = &config.AppPlatform
	store.DeviceProps.Os = &osName
}

// Open builds the whatsmeow client for the account and starts the socket.
// Auto reconnect stays disabled: reconnection policy belongs to the session
// manager, the transport only reports why the link went down.
func (d *Dialer) Open(ctx context.Context, accountID string, onEvent func(transport.Event)) (transport.Handle, error) {
	trimmed := strings.TrimSpace(accountID)
	if trimmed == "" {
		return nil, pkgError.ValidationError("accountID: cannot be blank.")
	}

	dbLog := waLog.Stdout("DB-"+shortID(trimmed), config.WhatsappLogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite3", sessionDBURI(trimmed), dbLog)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to init session store: %v", err))
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to get device: %v", err))
	}
	if device == nil {
		logrus.Infof("[ACCOUNT] No stored device for %s, starting fresh pairing", trimmed)
		device = container.NewDevice()
	}

	configureDeviceProps()

	client := whatsmeow.NewClient(device, waLog.Stdout("Client-"+shortID(trimmed), config.WhatsappLogLevel, true))
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	handle := &clientHandle{accountID: trimmed, client: client, db: container}
	client.AddEventHandler(func(rawEvt interface{}) {
		handle.dispatch(rawEvt, onEvent)
	})

	if err := client.Connect(); err != nil {
		client.RemoveEventHandlers()
		client.Disconnect()
		container.Close()
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to connect: %v", err))
	}

	return handle, nil
}

// clientHandle wraps one whatsmeow client plus its session store. Owned by
// the registry slot of a single account.
type clientHandle struct {
	accountID string
	client    *whatsmeow.Client
	db        *sqlstore.Container
}

// dispatch translates whatsmeow events into the closed notification set the
// lifecycle manager consumes. Everything else is dropped here.
func (h *clientHandle) dispatch(rawEvt any, onEvent func(transport.Event)) {
	switch evt := rawEvt.(type) {
	case *events.QR:
		if len(evt.Codes) == 0 {
			return
		}
		onEvent(transport.Event{Kind: transport.EventQRIssued, QRPayload: evt.Codes[0]})

	case *events.PairSuccess:
		logrus.WithFields(logrus.Fields{
			"account_id": h.accountID,
			"device":     evt.ID.String(),
		}).Info("[ACCOUNT] Paired successfully")

	case *events.Connected:
		onEvent(transport.Event{Kind: transport.EventOpened, Identity: h.Identity()})

	case *events.Disconnected:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    transport.CloseNetwork,
			CloseMessage: "socket disconnected",
		})

	case *events.LoggedOut:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    transport.CloseLoggedOut,
			CloseMessage: fmt.Sprintf("logged out from another device (reason %d)", int(evt.Reason)),
		})

	case *events.StreamReplaced:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    transport.CloseConflict,
			CloseMessage: "stream replaced by another session",
		})

	case *events.TemporaryBan:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    transport.CloseBanned,
			CloseMessage: fmt.Sprintf("temporary ban %d, expires in %s", int(evt.Code), evt.Expire),
		})

	case *events.ClientOutdated:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    transport.CloseOutdated,
			CloseMessage: "client version rejected by server",
		})

	case *events.ConnectFailure:
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    closeCodeForConnectFailure(evt),
			CloseMessage: fmt.Sprintf("connect failure %d: %s", int(evt.Reason), evt.Message),
		})

	case *events.StreamError:
		code := transport.CloseNetwork
		if evt.Code == "429" {
			code = transport.CloseRateLimited
		}
		onEvent(transport.Event{
			Kind:         transport.EventClosed,
			CloseCode:    code,
			CloseMessage: fmt.Sprintf("stream error %s", evt.Code),
		})

	case *events.Receipt:
		kind, ok := receiptKind(evt.Type)
		if !ok {
			return
		}
		ids := make([]string, 0, len(evt.MessageIDs))
		for _, id := range evt.MessageIDs {
			ids = append(ids, string(id))
		}
		onEvent(transport.Event{Kind: transport.EventReceipt, Receipt: kind, MessageIDs: ids})
	}
}

func closeCodeForConnectFailure(evt *events.ConnectFailure) transport.CloseCode {
	switch {
	case evt.Reason.IsLoggedOut():
		return transport.CloseLoggedOut
	case evt.Reason == events.ConnectFailureTempBanned:
		return transport.CloseBanned
	case evt.Reason == events.ConnectFailureClientOutdated:
		return transport.CloseOutdated
	case int(evt.Reason) == 403:
		return transport.CloseForbidden
	default:
		return transport.CloseNetwork
	}
}

func receiptKind(t types.ReceiptType) (transport.ReceiptKind, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return transport.ReceiptDelivered, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return transport.ReceiptRead, true
	default:
		return "", false
	}
}

func (h *clientHandle) Send(ctx context.Context, target string, content transport.Content) (transport.SendReceipt, error) {
	jid, err := formatJID(target)
	if err != nil {
		return transport.SendReceipt{}, err
	}

	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(content.Body),
		},
	}

	resp, err := h.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return transport.SendReceipt{}, err
	}
	return transport.SendReceipt{MessageID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (h *clientHandle) Logout(ctx context.Context) error {
	return h.client.Logout(ctx)
}

func (h *clientHandle) PairCode(ctx context.Context, phone string) (string, error) {
	if h.client.Store.ID != nil || h.client.IsLoggedIn() {
		return "", pkgError.ValidationError("account is already paired.")
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if trimmed == "" {
		return "", pkgError.ValidationError("phone: cannot be blank.")
	}
	code, err := h.client.PairPhone(ctx, trimmed, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to request pairing code: %v", err))
	}
	return code, nil
}

func (h *clientHandle) Identity() transport.Identity {
	st := h.client.Store
	if st == nil || st.ID == nil {
		return transport.Identity{}
	}
	return transport.Identity{
		Phone:    st.ID.User,
		PushName: st.PushName,
		DeviceID: st.ID.String(),
	}
}

func (h *clientHandle) Close() {
	h.client.RemoveEventHandlers()
	h.client.Disconnect()
	h.db.Close()
}

// formatJID accepts a bare phone number or a full JID string.
func formatJID(target string) (types.JID, error) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return types.JID{}, pkgError.ValidationError("phone: cannot be blank.")
	}
	if strings.ContainsRune(trimmed, '@') {
		jid, err := types.ParseJID(trimmed)
		if err != nil {
			return types.JID{}, pkgError.ValidationError(fmt.Sprintf("phone: invalid JID %s.", trimmed))
		}
		return jid, nil
	}
	return types.NewJID(strings.TrimPrefix(trimmed, "+"), types.DefaultUserServer), nil
}
