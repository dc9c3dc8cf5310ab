package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dbt-portal/dbtsync/citest/testutil"
	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/internal/remote"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var (
	adminIdentity   = types.Identity{UserID: "admin-e2e", Role: "admin", Name: "E2E Admin"}
	citizenIdentity = types.Identity{UserID: "citizen-e2e", Role: "citizen"}
)

func draft(title string) content.Draft {
	return content.Draft{Payload: types.Payload{Title: title}, IsActive: true}
}

var _ = Describe("Relay", func() {
	It("should report health", func() {
		health, err := client.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(health.Status).To(Equal("ok"))
	})
})

var _ = Describe("Broadcast Fan-out", func() {
	var admin, citizen *testutil.PortalClient

	BeforeEach(func() {
		var err error
		admin, err = testutil.NewPortalClient(testRelay.BaseURL, adminIdentity)
		Expect(err).NotTo(HaveOccurred())
		citizen, err = testutil.NewPortalClient(testRelay.BaseURL, citizenIdentity)
		Expect(err).NotTo(HaveOccurred())

		connect(admin)
		start(citizen)
	})

	AfterEach(func() {
		admin.Close()
		citizen.Close()
	})

	It("should deliver a created notice to the citizen", func() {
		title := "Camp " + testutil.RandomString(6)

		res, err := admin.CreateNotice(ctx, draft(title))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Broadcast).To(BeTrue())

		Eventually(func() []string {
			return citizen.Titles(types.CollectionNotices)
		}).Should(ContainElement(title))

		snapshot, err := client.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(snapshot.Notices).To(ContainElement(HaveField("ID", res.Record.ID)))

		Expect(citizen.Recorder.Updates(types.CollectionNotices)).To(ContainElement(And(
			HaveField("Mutation", types.MutationCreated),
			HaveField("Source", event.SourceRemote),
		)))
	})

	It("should not echo a broadcast back to its sender", func() {
		_, err := admin.CreateAwareness(ctx, draft("Awareness "+testutil.RandomString(6)))
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []event.UpdateData {
			return citizen.Recorder.Updates(types.CollectionAwareness)
		}).Should(ContainElement(HaveField("Mutation", types.MutationCreated)))

		Consistently(func() []event.UpdateData {
			return admin.Recorder.Updates(types.CollectionAwareness)
		}, 200*time.Millisecond).ShouldNot(ContainElement(And(
			HaveField("Mutation", types.MutationCreated),
			HaveField("Source", event.SourceRemote),
		)))
	})

	It("should withdraw a deactivated event", func() {
		title := "Event " + testutil.RandomString(6)
		res, err := admin.CreateEvent(ctx, draft(title))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() []string {
			return citizen.Titles(types.CollectionEvents)
		}).Should(ContainElement(title))

		_, err = admin.SetActive(ctx, types.CollectionEvents, res.Record.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() []string {
			return citizen.Titles(types.CollectionEvents)
		}).ShouldNot(ContainElement(title))

		_, err = admin.Remove(ctx, types.CollectionEvents, res.Record.ID)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() []types.ContentRecord {
			return citizen.All(ctx, types.CollectionEvents)
		}).ShouldNot(ContainElement(HaveField("ID", res.Record.ID)))
	})

	It("should stream accepted updates over SSE", func() {
		sse := testRelay.SSEClient()
		Expect(sse.Connect(ctx, "/events")).To(Succeed())
		defer sse.Close()
		_, err := sse.WaitForEvent("relay.connected", 2*time.Second)
		Expect(err).NotTo(HaveOccurred())

		_, err = admin.CreateAwareness(ctx, draft("Streamed "+testutil.RandomString(6)))
		Expect(err).NotTo(HaveOccurred())

		evt, err := sse.WaitForEvent(string(event.ContentUpdated), 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		update, err := evt.ParseUpdate()
		Expect(err).NotTo(HaveOccurred())
		Expect(update.Collection).To(Equal(types.CollectionAwareness))
		Expect(update.Mutation).To(Equal(types.MutationCreated))
		Expect(update.Source).To(Equal(event.SourceRemote))
	})
})

var _ = Describe("Reconciliation", func() {
	It("should overwrite unsent local work with the server snapshot", func() {
		relay, err := testutil.StartTestRelay(testutil.WithSnapshot(types.DataSync{Notices: []types.ContentRecord{}}))
		Expect(err).NotTo(HaveOccurred())
		defer relay.Stop()

		admin, err := testutil.NewPortalClient(relay.BaseURL, adminIdentity)
		Expect(err).NotTo(HaveOccurred())
		defer admin.Close()

		res, err := admin.CreateNotice(ctx, draft("Camp on Feb 15"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Broadcast).To(BeFalse())
		Expect(res.Record.ID).To(BeNumerically(">", 0))
		Expect(admin.Titles(types.CollectionNotices)).To(Equal([]string{"Camp on Feb 15"}))

		connect(admin)

		Expect(admin.All(ctx, types.CollectionNotices)).To(BeEmpty())
		Expect(admin.Recorder.Updates(types.CollectionNotices)).To(ContainElement(HaveField("Mutation", types.MutationDataSync)))
	})

	It("should give a late joiner the current collections", func() {
		admin, err := testutil.NewPortalClient(testRelay.BaseURL, adminIdentity)
		Expect(err).NotTo(HaveOccurred())
		defer admin.Close()
		connect(admin)

		title := "Late " + testutil.RandomString(6)
		res, err := admin.CreateNotice(ctx, draft(title))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Broadcast).To(BeTrue())
		Eventually(func() ([]types.ContentRecord, error) {
			snapshot, err := client.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			return snapshot.Notices, nil
		}).Should(ContainElement(HaveField("Title", title)))

		late, err := testutil.NewPortalClient(testRelay.BaseURL, citizenIdentity)
		Expect(err).NotTo(HaveOccurred())
		defer late.Close()
		connect(late)

		Expect(late.Titles(types.CollectionNotices)).To(ContainElement(title))
	})
})

var _ = Describe("Reconnection", func() {
	It("should give up after the retry budget and reconnect on demand", func() {
		relay, err := testutil.StartTestRelay()
		Expect(err).NotTo(HaveOccurred())
		port := relay.Port()

		citizen, err := testutil.NewPortalClient(relay.BaseURL, citizenIdentity)
		Expect(err).NotTo(HaveOccurred())
		defer citizen.Close()
		start(citizen)

		Expect(relay.Stop()).To(Succeed())
		Eventually(citizen.Client().State).Should(Equal(remote.StateGivenUp))
		Expect(citizen.Recorder.States()).To(ContainElement(string(remote.StateGivenUp)))

		relay, err = testutil.StartTestRelay(testutil.WithPort(port),
			testutil.WithSnapshot(types.DataSync{Events: []types.ContentRecord{{ID: 7, Payload: types.Payload{Title: "Back online"}, IsActive: true}}}))
		Expect(err).NotTo(HaveOccurred())
		defer relay.Stop()

		Expect(citizen.Reconnect(ctx)).To(Succeed())
		Expect(citizen.Client().IsConnected()).To(BeTrue())
		Eventually(func() []string {
			return citizen.Titles(types.CollectionEvents)
		}).Should(Equal([]string{"Back online"}))
	})
})
