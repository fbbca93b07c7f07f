// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command client upscales a cover through a running server, saves the
// result and shares it so a phone can pick it up from the printed QR code.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/handoff"
	"github.com/fawa-io/coverup/pkg/rpcjson"
	sharesvc "github.com/fawa-io/coverup/service/share"
	upscalesvc "github.com/fawa-io/coverup/service/upscale"
)

func main() {
	server := pflag.String("server", "http://localhost:8080", "coverup server base URL")
	image := pflag.String("image", "", "path or http(s) URL of the source cover")
	device := pflag.String("device", "", "device preset id (see /api/presets)")
	scale := pflag.Int("scale", 0, "explicit scale factor; overrides --device")
	label := pflag.String("label", "", "album name attached to the share")
	out := pflag.String("out", "", "where to write the upscaled PNG (default <label>-upscaled.png)")
	noShare := pflag.Bool("no-share", false, "only upscale, do not create a share")
	pflag.Parse()

	if *image == "" {
		fwlog.Fatal("--image is required")
	}
	if *label == "" {
		*label = strings.TrimSuffix(filepath.Base(*image), filepath.Ext(*image))
	}
	if *out == "" {
		*out = *label + "-upscaled.png"
	}

	req := &upscalesvc.UpscaleRequest{Scale: *scale, DeviceID: *device}
	if strings.HasPrefix(*image, "http://") || strings.HasPrefix(*image, "https://") {
		req.SourceImageURL = *image
	} else {
		data, err := os.ReadFile(*image)
		if err != nil {
			fwlog.Fatalf("read source: %v", err)
		}
		req.SourceImage = data
	}

	ctx := context.Background()
	caller := uuid.NewString()

	upscaleClient := rpcjson.NewClient[upscalesvc.UpscaleRequest, upscalesvc.UpscaleResponse](
		http.DefaultClient, *server, upscalesvc.UpscaleServiceUpscaleProcedure)
	upReq := connect.NewRequest(req)
	upReq.Header().Set(upscalesvc.CallerHeader, caller)
	upRes, err := upscaleClient.CallUnary(ctx, upReq)
	if err != nil {
		fwlog.Fatalf("upscale: %v", err)
	}
	if !upRes.Msg.Success {
		fwlog.Fatalf("upscale failed: %s", upRes.Msg.Error)
	}
	if err := os.WriteFile(*out, upRes.Msg.ImageBytes, 0o644); err != nil {
		fwlog.Fatalf("write result: %v", err)
	}
	fwlog.Infof("Wrote %s (%dx%d, x%d)", *out, upRes.Msg.Width, upRes.Msg.Height, upRes.Msg.Scale)

	if *noShare {
		return
	}

	shareClient := rpcjson.NewClient[sharesvc.ShareRequest, sharesvc.ShareResponse](
		http.DefaultClient, *server, sharesvc.ShareServiceShareProcedure)
	shRes, err := shareClient.CallUnary(ctx, connect.NewRequest(&sharesvc.ShareRequest{
		Payload: upRes.Msg.ImageBytes,
		Label:   *label,
	}))
	if err != nil {
		fwlog.Fatalf("share: %v", err)
	}

	enc, err := handoff.NewEncoder(handoff.DefaultSize, handoff.DefaultLevel)
	if err != nil {
		fwlog.Fatal(err)
	}
	art, err := enc.Terminal(shRes.Msg.Link)
	if err != nil {
		fwlog.Fatalf("render qr: %v", err)
	}
	fmt.Println(art)
	fmt.Printf("Scan to download within the hour: %s\n", shRes.Msg.Link)
}
