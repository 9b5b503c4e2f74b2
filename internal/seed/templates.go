package seed

import "fmt"

// gameTemplate renders a tiny self-contained canvas game. Arguments are the
// title, the background colour and the accent colour.
type gameTemplate struct {
	name string
	tags []string
	html string
}

var gameTemplates = []gameTemplate{
	{
		name: "bounce",
		tags: []string{"arcade", "physics"},
		html: `<!doctype html><html><head><meta charset="utf-8"><title>%[1]s</title>
<style>html,body{margin:0;height:100%%;background:%[2]s}canvas{display:block;margin:auto}</style></head>
<body><canvas id="c" width="400" height="400"></canvas><script>
const c=document.getElementById("c"),x=c.getContext("2d");let b={x:200,y:80,vx:3,vy:0},s=0;
c.onclick=()=>{b.vy=-9;s++};
(function f(){b.vy+=0.4;b.x+=b.vx;b.y+=b.vy;if(b.x<10||b.x>390)b.vx*=-1;if(b.y>390){b.y=390;b.vy*=-0.7}
x.fillStyle="%[2]s";x.fillRect(0,0,400,400);x.fillStyle="%[3]s";x.beginPath();x.arc(b.x,b.y,10,0,7);x.fill();
x.fillText("score "+s,10,20);requestAnimationFrame(f)})();
</script></body></html>`,
	},
	{
		name: "dodge",
		tags: []string{"arcade", "reflex"},
		html: `<!doctype html><html><head><meta charset="utf-8"><title>%[1]s</title>
<style>html,body{margin:0;height:100%%;background:%[2]s}canvas{display:block;margin:auto}</style></head>
<body><canvas id="c" width="400" height="400"></canvas><script>
const c=document.getElementById("c"),x=c.getContext("2d");let p=200,r=[],t=0,over=false;
c.onmousemove=e=>{p=e.offsetX};
(function f(){if(over)return;t++;if(t%%30===0)r.push({x:Math.random()*400,y:0});
x.fillStyle="%[2]s";x.fillRect(0,0,400,400);x.fillStyle="%[3]s";x.fillRect(p-15,380,30,10);
for(const o of r){o.y+=4;x.fillRect(o.x,o.y,8,8);if(o.y>375&&Math.abs(o.x-p)<18)over=true}
x.fillText("time "+t,10,20);requestAnimationFrame(f)})();
</script></body></html>`,
	},
	{
		name: "clicker",
		tags: []string{"idle", "casual"},
		html: `<!doctype html><html><head><meta charset="utf-8"><title>%[1]s</title>
<style>html,body{margin:0;height:100%%;background:%[2]s;color:%[3]s;font:24px sans-serif;text-align:center}</style></head>
<body><h1>%[1]s</h1><button id="b">click</button><p id="s">0</p><script>
let n=0;document.getElementById("b").onclick=()=>{n++;document.getElementById("s").textContent=n};
</script></body></html>`,
	},
}

func (t gameTemplate) render(title, bg, accent string) string {
	return fmt.Sprintf(t.html, title, bg, accent)
}
