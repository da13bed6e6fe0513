// services/accessory/accessory.go
package accessory

import (
	"context"
	"errors"
	"io"
	"strings"

	"accessorycard-go/bus"
	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/attrfs"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/services/accessory/internal/eeprom"
	"accessorycard-go/services/accessory/internal/enf"
	"accessorycard-go/services/accessory/internal/pins"
	"accessorycard-go/services/accessory/internal/platform"
	"accessorycard-go/services/accessory/internal/registry"
	"accessorycard-go/services/config"
	"accessorycard-go/types"
	"accessorycard-go/x/strx"
	"accessorycard-go/x/timex"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"tinygo.org/x/drivers"
)

const prefix = "accessory"

var (
	topicState   = bus.T(prefix, "state")
	topicAttrCtl = bus.T(prefix, "attr", bus.WildOne)
	topicSlotCtl = bus.T(prefix, "slot", bus.WildOne)
)

// SlotStateTopic is where the retained state of a 1-based port is published.
func SlotStateTopic(port int) bus.Topic { return bus.T(prefix, "slot", port, "state") }

// AttrTopic and SlotTopic address the control verbs.
func AttrTopic(verb string) bus.Topic { return bus.T(prefix, "attr", verb) }
func SlotTopic(verb string) bus.Topic { return bus.T(prefix, "slot", verb) }

// StateTopic is where the retained service state is published.
func StateTopic() bus.Topic { return topicState }

// Options override the collaborators New would otherwise build from config.
type Options struct {
	Fs     afero.Fs         // nil means the OS filesystem
	Lines  core.LineFactory // nil means platform.Lines(cfg.Platform)
	Logger *log.Logger
}

// Service owns the accessory slots for one product: it attaches matching
// cards at start, serves attribute and slot controls on the bus, and frees
// everything when its context ends.
type Service struct {
	conn    *bus.Connection
	cfg     *config.Config
	tree    *attrfs.Tree
	reg     *registry.Registry
	closers []io.Closer
	log     *log.Logger
}

// Ensure the service receives slot transitions from drivers.
var _ core.EventSink = (*Service)(nil)

func New(conn *bus.Connection, cfg *config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	lines := opts.Lines
	if lines == nil {
		var err error
		if lines, err = platform.Lines(strx.Coalesce(cfg.Platform, platform.Host)); err != nil {
			return nil, errcode.Wrap(errcode.Of(err), "open gpio", err)
		}
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	s := &Service{
		conn: conn,
		cfg:  cfg,
		tree: attrfs.New(),
		log:  logger.WithPrefix(prefix),
	}
	root, err := s.tree.CreateNode(cfg.RootNode, nil)
	if err != nil {
		return nil, errcode.Wrap(errcode.Of(err), "create root "+cfg.RootNode, err)
	}

	info := eeprom.NewReader(s.tree, logger)
	buses := map[string]drivers.I2C{}
	for i, slot := range cfg.Slots {
		src, err := s.source(fs, buses, slot.EEPROM)
		if err != nil {
			s.Close()
			return nil, err
		}
		info.SetSource(i+1, src)
	}

	s.reg = registry.New(len(cfg.Slots), root, info, s.tree, logger)
	ctrl := enf.New(enf.Deps{
		Ports:     s.reg,
		Publisher: s.tree,
		Pins:      pins.New(lines, logger),
		Info:      info,
		Events:    s,
		Logger:    logger,
		ProductID: cfg.ProductID,
		BaseAlias: cfg.BaseAlias,
	})
	s.reg.Register(ctrl.Descriptor())
	return s, nil
}

// source builds the EEPROM source for one slot, sharing i2c-dev buses
// between slots.
func (s *Service) source(fs afero.Fs, buses map[string]drivers.I2C, e config.EEPROM) (eeprom.Source, error) {
	if e.Path != "" {
		return eeprom.FileSource{Fs: fs, Path: e.Path}, nil
	}
	b, ok := buses[e.I2CBus]
	if !ok {
		dev, closer, err := platform.I2C(e.I2CBus)
		if err != nil {
			return nil, errcode.Wrap(errcode.Of(err), "open "+e.I2CBus, err)
		}
		s.closers = append(s.closers, closer)
		buses[e.I2CBus] = dev
		b = dev
	}
	return eeprom.I2CSource{Bus: b, Addr: e.Addr}, nil
}

// Close releases the buses opened by New. Run must have returned.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// SlotEvent publishes a slot transition, retained per port.
func (s *Service) SlotEvent(ev types.SlotEvent) {
	s.conn.Publish(s.conn.NewMessage(SlotStateTopic(ev.Port), ev, true))
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

// Run attaches every matching card, then serves controls until ctx ends. With
// require_card set, finding no card is an error, as is any scan failure.
func (s *Service) Run(ctx context.Context) error {
	attrSub := s.conn.Subscribe(topicAttrCtl)
	slotSub := s.conn.Subscribe(topicSlotCtl)
	defer s.conn.Unsubscribe(attrSub)
	defer s.conn.Unsubscribe(slotSub)

	s.publishState("idle", "probing", nil)
	n, err := s.reg.Find(ctx, s.cfg.ProductID)
	if err != nil {
		s.reg.Free(s.cfg.ProductID, s.cfg.BaseAlias)
		s.publishState("stopped", "find_failed", err)
		return err
	}
	if n < 1 {
		s.log.Error("No MTAC ENF found", "product", s.cfg.ProductID)
		if s.cfg.RequireCard {
			s.publishState("stopped", "no_device", errcode.NoDevice)
			return errcode.NoDevice
		}
		s.publishState("degraded", "no_device", nil)
	} else {
		s.publishState("ready", "attached", nil)
	}

	for {
		select {
		case <-ctx.Done():
			s.reg.Free(s.cfg.ProductID, s.cfg.BaseAlias)
			s.publishState("stopped", "context_cancelled", nil)
			return nil

		case msg := <-attrSub.Channel():
			// accessory/attr/<verb>
			verb, _ := msg.Topic.At(2).(string)
			s.handleAttr(verb, msg)

		case msg := <-slotSub.Channel():
			// accessory/slot/<verb>
			verb, _ := msg.Topic.At(2).(string)
			s.handleSlot(ctx, verb, msg)
		}
	}
}

func (s *Service) path(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return s.cfg.RootNode
	}
	return s.cfg.RootNode + "/" + rel
}

func (s *Service) handleAttr(verb string, msg *bus.Message) {
	switch verb {
	case "show":
		var req types.AttrShow
		if err := decodeJSON(msg.Payload, &req); err != nil || req.Path == "" {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		v, err := s.tree.Show(s.path(req.Path))
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.AttrShowReply{OK: true, Value: v}, false)

	case "store":
		var req types.AttrStore
		if err := decodeJSON(msg.Payload, &req); err != nil || req.Path == "" {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if err := s.tree.Store(s.path(req.Path), req.Value); err != nil {
			s.log.Warn("store failed", "path", req.Path, "err", err)
			s.replyErr(msg, err)
			return
		}
		s.log.Debug("stored", "path", req.Path, "value", req.Value)
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	case "list":
		var req types.AttrList
		if msg.Payload != nil {
			if err := decodeJSON(msg.Payload, &req); err != nil {
				s.replyErr(msg, errcode.InvalidPayload)
				return
			}
		}
		entries, err := s.tree.List(s.path(req.Path))
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.AttrListReply{OK: true, Entries: entries}, false)

	default:
		s.replyErr(msg, errcode.InvalidTopic)
	}
}

func (s *Service) handleSlot(ctx context.Context, verb string, msg *bus.Message) {
	switch verb {
	case "attach":
		var req types.SlotAttach
		if err := decodeJSON(msg.Payload, &req); err != nil || req.Port < 1 {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if err := s.reg.Attach(ctx, req.Port); err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.OKReply{OK: true}, false)
		s.publishState("ready", "attached", nil)

	case "detach":
		var req types.SlotDetach
		if err := decodeJSON(msg.Payload, &req); err != nil || req.Port < 1 {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if err := s.reg.Detach(req.Port); err != nil {
			s.replyErr(msg, err)
			if errcode.Of(err) != errcode.InvalidSlot {
				s.publishState("degraded", "detach_incomplete", err)
			}
			return
		}
		s.conn.Reply(msg, types.OKReply{OK: true}, false)
		s.publishState("ready", "detached", nil)

	case "list":
		s.conn.Reply(msg, s.reg.Snapshot(), false)

	default:
		s.replyErr(msg, errcode.InvalidTopic)
	}
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{
		Level:  level,
		Status: status,
		Slots:  s.reg.Attached(),
		TSms:   timex.NowMs(),
	}
	if err != nil {
		st.Error = string(errcode.Of(err))
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func (s *Service) replyErr(req *bus.Message, err error) {
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(errcode.Of(err))}, false)
}
