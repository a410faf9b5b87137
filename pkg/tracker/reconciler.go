package tracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/integrations/statuspage"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
	"outage-tracker/pkg/utils"
)

// Reconciler converges the external announcement of an outage to its current
// state: create vs update-in-place of the chat message, pin/unpin, change
// narratives in the message thread and the one-shot sales notice.
//
// Each run is "reconcile to current state", not "apply one delta": reconcile
// requests may arrive out of submission order, and a burst of rapid edits may
// coalesce into fewer external updates than edits.
type Reconciler struct {
	store         repositories.ReconcileStore
	outages       repositories.OutageRepository
	solutions     repositories.SolutionRepository
	chatClient    *chat.Client
	builder       *MessageBuilder
	differ        *Differ
	notifier      Notifier
	configManager *config.Manager[types.TrackerConfig]
	// statusPage is nil when the integration is not configured.
	statusPage *statuspage.Client
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// NewReconciler creates a new Reconciler instance. statusPage may be nil,
// which disables the public status page mirroring.
func NewReconciler(
	repos repositories.Repositories,
	chatClient *chat.Client,
	notifier Notifier,
	configManager *config.Manager[types.TrackerConfig],
	statusPage *statuspage.Client,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		store:         repos.Reconcile,
		outages:       repos.Outages,
		solutions:     repos.Solutions,
		chatClient:    chatClient,
		builder:       NewMessageBuilder(repos.Systems, repos.Users, logger),
		differ:        NewDiffer(repos.Systems, repos.Users, notifier, logger),
		notifier:      notifier,
		configManager: configManager,
		statusPage:    statusPage,
		metrics:       m,
		logger:        logger,
	}
}

// reconcileResult carries the state captured under the lock into the
// post-lock side effects.
type reconcileResult struct {
	outage    types.Outage
	ann       types.Announcement
	postedNow bool
	changes   *ChangeSet
	modifier  string
}

// Reconcile converges the announcement for one outage. Lock contention
// abandons the run without error: the writer holding the lock publishes the
// final state, or the next trigger re-converges.
func (r *Reconciler) Reconcile(outageID uint) {
	var result reconcileResult
	err := r.store.WithOutageLock(outageID, func(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) error {
		return r.reconcileLocked(outage, ann, save, &result)
	})
	switch err {
	case nil:
	case repositories.ErrRowLocked:
		r.metrics.LockContentionsTotal.Inc()
		r.metrics.ReconcileRunsTotal.WithLabelValues("contended").Inc()
		r.logger.WithField("outage_id", outageID).Warn("Unable to get lock for row")
		return
	default:
		r.metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		r.logger.WithFields(logrus.Fields{
			"outage_id": outageID,
			"error":     err,
		}).Error("Announcement reconciliation failed")
		return
	}

	r.afterLock(&result)
	r.metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
}

// reconcileLocked runs the read-modify-write critical section: message
// create-or-update, the sales one-shot notice and the narration bookkeeping.
func (r *Reconciler) reconcileLocked(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error, result *reconcileResult) error {
	cfg := r.configManager.Get()

	if outage.AnnounceOnChat {
		msg := r.builder.Build(outage, ann)
		if !ann.Posted() {
			ts, err := r.chatClient.PostMessage(ann.ChannelID, msg)
			if err != nil {
				// Leave the announcement without a message id so the next
				// attempt still treats it as "needs creation".
				r.logger.WithFields(logrus.Fields{
					"outage_id": outage.ID,
					"error":     err,
				}).Error("Failed to post announcement message")
			} else {
				ann.MessageTS = ts
				if permalink, err := r.chatClient.GetPermalink(ann.ChannelID, ts); err != nil {
					r.logger.WithFields(logrus.Fields{
						"outage_id": outage.ID,
						"error":     err,
					}).Warn("Failed to fetch announcement permalink")
				} else {
					ann.Permalink = permalink
				}
				if err := save(ann); err != nil {
					return err
				}
				result.postedNow = true
				r.metrics.AnnouncementsPosted.Inc()
			}
		} else {
			if err := r.chatClient.UpdateMessage(ann.ChannelID, ann.MessageTS, msg); err != nil {
				r.logger.WithFields(logrus.Fields{
					"outage_id": outage.ID,
					"error":     err,
				}).Error("Failed to update announcement message")
			} else {
				r.metrics.AnnouncementsUpdated.Inc()
			}
		}

		r.notifySales(outage, ann, save, cfg)
	}

	r.syncStatusPage(outage, ann, save)

	changes, modifier, err := r.pendingNarrative(outage, ann, save)
	if err != nil {
		return err
	}
	result.changes = changes
	result.modifier = modifier

	result.outage = *outage
	result.ann = *ann
	return nil
}

// pendingNarrative diffs the newest history snapshot against its predecessor
// unless that snapshot has already been narrated. Marking happens under the
// lock so a concurrent run cannot narrate the same snapshot twice.
func (r *Reconciler) pendingNarrative(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) (*ChangeSet, string, error) {
	if outage.Resolved && outage.Solution != nil {
		versions, err := r.solutions.RecentHistory(outage.Solution.ID, 2)
		if err != nil {
			return nil, "", err
		}
		if len(versions) == 0 || versions[0].ID == ann.NarratedSolutionHistoryID {
			return nil, "", nil
		}
		outVersions, err := r.outages.RecentHistory(outage.ID, 2)
		if err != nil {
			return nil, "", err
		}
		cur, prev := pickSolutionVersions(versions)
		curOut, prevOut := pickOutageVersions(outVersions)
		changes := r.differ.DiffSolution(outage, cur, prev, curOut, prevOut)
		ann.NarratedSolutionHistoryID = cur.ID
		if len(outVersions) > 0 {
			ann.NarratedOutageHistoryID = outVersions[0].ID
		}
		if err := save(ann); err != nil {
			return nil, "", err
		}
		modifier := cur.ModifiedBy
		if modifier == "" {
			modifier = cur.CreatedBy
		}
		return changes, modifier, nil
	}

	versions, err := r.outages.RecentHistory(outage.ID, 2)
	if err != nil {
		return nil, "", err
	}
	if len(versions) == 0 || versions[0].ID == ann.NarratedOutageHistoryID {
		return nil, "", nil
	}
	cur, prev := pickOutageVersions(versions)
	changes := r.differ.DiffOutage(outage, cur, prev, ann.Permalink)
	ann.NarratedOutageHistoryID = cur.ID
	if err := save(ann); err != nil {
		return nil, "", err
	}
	return changes, cur.ModifiedBy, nil
}

// afterLock performs the side effects that do not need the row lock:
// assignee notifications for a fresh post, pinning and the thread comment.
func (r *Reconciler) afterLock(result *reconcileResult) {
	outage := &result.outage
	ann := &result.ann

	if result.postedNow {
		r.notifier.NotifyAssigned(outage.SolutionAssignee, RoleSolution, ann.Permalink)
		r.notifier.NotifyAssigned(outage.CommunicationAssignee, RoleCommunication, ann.Permalink)
		if !outage.Resolved {
			if err := r.chatClient.Pin(ann.ChannelID, ann.MessageTS); err != nil {
				r.logger.WithFields(logrus.Fields{
					"outage_id": outage.ID,
					"error":     err,
				}).Warn("Failed to pin announcement message")
			}
		}
	}

	if result.changes != nil && !result.changes.Empty() {
		r.publishNarrative(outage, ann, result.changes, result.modifier)
	}

	if outage.Resolved && ann.Posted() {
		if err := r.chatClient.Unpin(ann.ChannelID, ann.MessageTS); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Warn("Failed to unpin announcement message")
		}
	}
}

// publishNarrative posts the short narrative to the announcement thread and
// records the long narrative as an audit note. When chat broadcast is opted
// out for the outage, only the audit note is written.
func (r *Reconciler) publishNarrative(outage *types.Outage, ann *types.Announcement, changes *ChangeSet, modifier string) {
	if outage.AnnounceOnChat && ann.Posted() {
		if err := r.chatClient.PostThreadReply(ann.ChannelID, ann.MessageTS, changes.ShortText()); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to post change comment")
		} else {
			r.metrics.ChangeCommentsPosted.Inc()
		}
	}

	note := &types.ChangeNote{
		OutageID:  outage.ID,
		Text:      changes.LongText(),
		CreatedBy: modifier,
	}
	if err := r.outages.CreateChangeNote(note); err != nil {
		r.logger.WithFields(logrus.Fields{
			"outage_id": outage.ID,
			"error":     err,
		}).Error("Failed to record change note")
	}
}

// notifySales posts the one-shot notice to the sales channel for outages
// classified as affecting sales. The flag is only set on confirmed delivery.
func (r *Reconciler) notifySales(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error, cfg *types.TrackerConfig) {
	if outage.SalesImpact != types.SalesImpactYes || cfg.Chat.SalesChannelID == "" || ann.SalesNotified {
		return
	}
	msg := "New outage affecting sales has been announced"
	if ann.Permalink != "" {
		msg += ": " + ann.Permalink
	}
	if _, err := r.chatClient.PostMessage(cfg.Chat.SalesChannelID, chat.Message{Text: msg}); err != nil {
		r.logger.WithFields(logrus.Fields{
			"outage_id": outage.ID,
			"error":     err,
		}).Error("Outage creation notification to sales failed")
		return
	}
	ann.SalesNotified = true
	if err := save(ann); err != nil {
		r.logger.WithFields(logrus.Fields{
			"outage_id": outage.ID,
			"error":     err,
		}).Error("Failed to record sales notification flag")
	}
}

// syncStatusPage mirrors the outage onto the public status page: an incident
// covering the affected system's component is opened while the outage is
// ongoing and resolved when the outage is. Delivery failures leave the stored
// incident state untouched so the next run retries.
func (r *Reconciler) syncStatusPage(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) {
	if r.statusPage == nil || outage.SystemID == nil {
		return
	}
	system, err := r.builder.systems.GetSystemByID(*outage.SystemID)
	if err != nil || system.StatusPageComponentID == "" {
		return
	}
	components := []string{system.StatusPageComponentID}

	switch {
	case !outage.Resolved && ann.StatusPageIncidentID == "":
		incident, err := r.statusPage.CreateIncident(system.Name, components, outage.ETA)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to open status page incident")
			return
		}
		ann.StatusPageIncidentID = incident.ID
		if err := save(ann); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to record status page incident id")
		}
	case outage.Resolved && ann.StatusPageIncidentID != "":
		if err := r.statusPage.ResolveIncident(ann.StatusPageIncidentID, components); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to resolve status page incident")
			return
		}
		ann.StatusPageIncidentID = ""
		if err := save(ann); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to clear status page incident id")
		}
	}
}

// CreateDedicatedChannel creates the per-outage chat channel, binds it to the
// announcement and invites the given users plus the bot. The channel name is
// derived from the affected system and the outage's creation day, suffixed
// when the system already had an outage that day.
func (r *Reconciler) CreateDedicatedChannel(outageID uint, inviteUserIDs []string) (string, error) {
	outage, err := r.outages.GetOutageByID(outageID)
	if err != nil {
		return "", err
	}
	if outage.Announcement != nil && outage.Announcement.DedicatedChannelID != "" {
		return outage.Announcement.DedicatedChannelID, nil
	}

	name, err := r.dedicatedChannelName(outage)
	if err != nil {
		return "", err
	}
	channelID, err := r.chatClient.CreateChannel(name)
	if err != nil {
		return "", fmt.Errorf("failed to create dedicated channel %s: %w", name, err)
	}

	var boundAnn types.Announcement
	if err := r.store.WithOutageLock(outageID, func(_ *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) error {
		ann.DedicatedChannelID = channelID
		if err := save(ann); err != nil {
			return err
		}
		boundAnn = *ann
		return nil
	}); err != nil {
		return "", err
	}

	cfg := r.configManager.Get()
	if cfg.Chat.BotUserID != "" {
		if err := r.chatClient.InviteToChannel(channelID, cfg.Chat.BotUserID); err != nil {
			r.logger.WithFields(logrus.Fields{
				"channel_id": channelID,
				"error":      err,
			}).Warn("Failed to invite bot to dedicated channel")
		}
	}
	for _, userID := range inviteUserIDs {
		if err := r.chatClient.InviteToChannel(channelID, userID); err != nil {
			r.logger.WithFields(logrus.Fields{
				"channel_id": channelID,
				"user_id":    userID,
				"error":      err,
			}).Warn("Failed to invite user to dedicated channel")
		}
	}

	if boundAnn.Posted() {
		comment := fmt.Sprintf("Dedicated chat channel: %s", chat.FormatChannel(channelID, name))
		if err := r.chatClient.PostThreadReply(boundAnn.ChannelID, boundAnn.MessageTS, comment); err != nil {
			r.logger.WithFields(logrus.Fields{
				"outage_id": outageID,
				"error":     err,
			}).Warn("Failed to announce dedicated channel")
		}
	}

	// Refresh the announcement body so it shows the new channel.
	r.Reconcile(outageID)
	return channelID, nil
}

func (r *Reconciler) dedicatedChannelName(outage *types.Outage) (string, error) {
	systemName := "outage"
	if outage.SystemID != nil {
		if system, err := r.builder.systems.GetSystemByID(*outage.SystemID); err == nil {
			systemName = system.Name
		}
	}
	created := outage.CreatedAt.UTC()
	dayStart := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
	offset := int64(0)
	if outage.SystemID != nil {
		var err error
		offset, err = r.outages.CountOutagesForSystemOnDay(*outage.SystemID, dayStart, dayStart.Add(24*time.Hour), outage.ID)
		if err != nil {
			return "", err
		}
	}
	return utils.DedicatedChannelName(systemName, created, int(offset)), nil
}

func pickOutageVersions(versions []types.OutageHistory) (cur, prev *types.OutageHistory) {
	if len(versions) > 0 {
		cur = &versions[0]
	}
	if len(versions) > 1 {
		prev = &versions[1]
	}
	return cur, prev
}

func pickSolutionVersions(versions []types.SolutionHistory) (cur, prev *types.SolutionHistory) {
	if len(versions) > 0 {
		cur = &versions[0]
	}
	if len(versions) > 1 {
		prev = &versions[1]
	}
	return cur, prev
}
