package e2e_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dbt-portal/dbtsync/citest/testutil"
)

var (
	testRelay *testutil.TestRelay
	client    *testutil.TestClient
	ctx       context.Context
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	SetDefaultEventuallyTimeout(3 * time.Second)
	SetDefaultEventuallyPollingInterval(10 * time.Millisecond)

	var err error
	testRelay, err = testutil.StartTestRelay()
	Expect(err).NotTo(HaveOccurred(), "Failed to start test relay")

	client = testRelay.Client()
	ctx = context.Background()
})

var _ = AfterSuite(func() {
	if testRelay != nil {
		testRelay.Stop()
	}
})

// connect makes one connection attempt and waits for the first data_sync.
func connect(p *testutil.PortalClient) {
	GinkgoHelper()
	connectCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	Expect(p.Connect(connectCtx)).To(Succeed())
}

// start runs the background client and waits until the relay confirmed it.
func start(p *testutil.PortalClient) {
	GinkgoHelper()
	Expect(p.Start(ctx)).To(Succeed())
	Eventually(p.Client().ConnectionID).ShouldNot(BeEmpty())
}
