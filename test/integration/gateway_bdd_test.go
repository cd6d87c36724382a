//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/client"
	"github.com/eliteGoblin/tooie/internal/policy"
	"github.com/eliteGoblin/tooie/test/fixtures"
)

// status fetches /v1/status and returns the decoded body.
func status(stack *fixtures.Stack) map[string]any {
	resp, err := stack.Client.Status(context.Background())
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.Status).To(Equal(http.StatusOK))
	var body map[string]any
	Expect(resp.Decode(&body)).To(Succeed())
	return body
}

func backendOf(stack *fixtures.Stack) func() string {
	return func() string {
		body := status(stack)
		return body["backendType"].(string) + "/" + body["backendState"].(string)
	}
}

func decode(resp *client.Response) map[string]any {
	var body map[string]any
	Expect(resp.Decode(&body)).To(Succeed())
	return body
}

func intPtr(v int) *int { return &v }

var _ = Describe("Gateway", func() {
	var (
		stack *fixtures.Stack
		ctx   context.Context
	)

	start := func(opts fixtures.StackOptions) {
		var err error
		stack, err = fixtures.NewStack(opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(stack.Start(zap.NewNop())).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if stack != nil {
			stack.Stop()
			stack = nil
		}
	})

	Describe("Startup", func() {
		BeforeEach(func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: true})
		})

		It("publishes owner-only client files", func() {
			info, err := os.Stat(stack.Paths.TokenFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))

			endpoint, err := os.ReadFile(stack.Paths.EndpointFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(endpoint)).To(HavePrefix("http://127.0.0.1:"))
		})

		It("installs the tooie wrapper", func() {
			info, err := os.Stat(stack.Paths.CLIPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0755)))
		})

		It("selects the IPC backend when the broker grants permission", func() {
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/READY"))

			body := status(stack)
			Expect(body["ok"]).To(BeTrue())
			Expect(body["isPrivilegedAvailable"]).To(BeTrue())
			Expect(body["privilegedPolicy"]).To(HaveKeyWithValue("masterEnabled", true))
		})

		It("rejects requests without the token", func() {
			endpoint, err := os.ReadFile(stack.Paths.EndpointFile)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(strings.TrimSpace(string(endpoint)) + "/v1/status")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Device control through the broker", func() {
		BeforeEach(func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: true})
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/READY"))
		})

		It("reads and sets brightness", func() {
			resp, err := stack.Client.Brightness(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(decode(resp)).To(HaveKeyWithValue("currentBrightness", float64(128)))

			resp, err = stack.Client.Brightness(ctx, intPtr(200))
			Expect(err).NotTo(HaveOccurred())
			body := decode(resp)
			Expect(body["ok"]).To(BeTrue())
			Expect(body["currentBrightness"]).To(Equal(float64(200)))
			Expect(stack.Device.Commands()).To(ContainElement("settings put system screen_brightness 200"))
		})

		It("reports a failed brightness write", func() {
			stack.Device.Fail("settings put system screen_brightness 10", 255, "Permission denial")

			resp, err := stack.Client.Brightness(ctx, intPtr(10))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusInternalServerError))
			Expect(decode(resp)).To(HaveKeyWithValue("error", "set_failed"))
		})

		It("reads the media volume", func() {
			resp, err := stack.Client.Volume(ctx, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			body := decode(resp)
			Expect(body["ok"]).To(BeTrue())
			Expect(body["currentVolume"]).To(Equal(float64(5)))
		})

		It("refuses exec until the exec policy enables it", func() {
			resp, err := stack.Client.Exec(ctx, "id")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusForbidden))

			Expect(stack.EnableExec()).To(Succeed())
			stack.Device.Reply("id", "uid=2000(shell) gid=2000(shell)\n")

			resp, err = stack.Client.Exec(ctx, "id")
			Expect(err).NotTo(HaveOccurred())
			body := decode(resp)
			Expect(body["ok"]).To(BeTrue())
			Expect(body["output"]).To(ContainSubstring("uid=2000"))
		})

		It("keeps the allow-list in force", func() {
			Expect(stack.EnableExec()).To(Succeed())

			resp, err := stack.Client.Exec(ctx, "rm -rf /sdcard")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusForbidden))
			Expect(stack.Device.Commands()).NotTo(ContainElement("rm -rf /sdcard"))
		})

		It("locks the screen", func() {
			resp, err := stack.Client.Lock(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.OK()).To(BeTrue())
			Expect(stack.Device.Commands()).To(ContainElement("input keyevent 223"))
		})
	})

	Describe("Token rotation", func() {
		BeforeEach(func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: true})
		})

		It("rewrites the token file and the client follows it", func() {
			before, err := os.ReadFile(stack.Paths.TokenFile)
			Expect(err).NotTo(HaveOccurred())

			resp, err := stack.Client.RotateToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.OK()).To(BeTrue())

			after, err := os.ReadFile(stack.Paths.TokenFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).NotTo(Equal(before))

			// The client reads the token file on every call
			Expect(status(stack)["ok"]).To(BeTrue())
		})
	})

	Describe("Permission flow", func() {
		BeforeEach(func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: false})
		})

		It("moves from denied to ready once the broker grants", func() {
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/PERMISSION_DENIED"))

			resp, err := stack.Client.RequestPermission(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.OK()).To(BeTrue())

			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/READY"))
		})
	})

	Describe("Supervision", func() {
		It("recovers the IPC backend when the broker comes up later", func() {
			start(fixtures.StackOptions{WithBroker: false, Granted: true})
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("NONE/SERVICE_NOT_RUNNING"))

			Expect(stack.StartBroker()).To(Succeed())
			Eventually(backendOf(stack), 5*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/READY"))
		})

		It("applies a policy change made while running", func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: true})
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("SHIZUKU/READY"))

			Expect(stack.Policies.Set(policy.KeyMasterEnabled, false)).To(Succeed())
			Eventually(backendOf(stack), 3*time.Second, 50*time.Millisecond).Should(Equal("NONE/UNAVAILABLE"))

			resp, err := stack.Client.Brightness(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusForbidden))
		})

		It("serves notification snapshots written by the collector", func() {
			start(fixtures.StackOptions{WithBroker: true, Granted: true})

			Expect(stack.WriteSnapshot("listener.json", `{"connected": true}`)).To(Succeed())
			Expect(stack.WriteSnapshot("notifications.json", `[
				// oldest first on disk
				{"key": "a", "postTime": 1},
				{"key": "b", "postTime": 2},
			]`)).To(Succeed())

			Eventually(func() float64 {
				resp, err := stack.Client.Notifications(ctx)
				Expect(err).NotTo(HaveOccurred())
				count, _ := decode(resp)["count"].(float64)
				return count
			}, 3*time.Second, 50*time.Millisecond).Should(Equal(float64(2)))

			resp, err := stack.Client.Notifications(ctx)
			Expect(err).NotTo(HaveOccurred())
			first := decode(resp)["notifications"].([]any)[0].(map[string]any)
			Expect(first["key"]).To(Equal("b"))
		})
	})
})
